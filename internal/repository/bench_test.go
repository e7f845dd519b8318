package repository

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/timeline"
)

func setupBenchDB(b *testing.B) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		b.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(model.All()...); err != nil {
		b.Fatalf("migrate: %v", err)
	}
	return db
}

func seedBenchUsers(b *testing.B, db *gorm.DB, n int) []model.User {
	users := make([]model.User, n)
	for i := range users {
		id := fmt.Sprintf("u%05d", i)
		users[i] = model.User{ID: id, Email: id + "@example.com", DisplayName: id, Icon: model.DefaultIcon}
	}
	if err := db.CreateInBatches(&users, 500).Error; err != nil {
		b.Fatalf("seed users: %v", err)
	}
	return users
}

func BenchmarkFollowWrite_And_FanRedundancy(b *testing.B) {
	db := setupBenchDB(b)
	followRepo := NewFollowRepository(db)
	fanRepo := NewFanRepository(db)
	ctx := context.Background()
	users := seedBenchUsers(b, db, 1000)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		from := users[rng.Intn(len(users))].ID
		to := users[rng.Intn(len(users))].ID
		if from == to {
			continue
		}
		_ = followRepo.Create(ctx, from, to)
		_ = fanRepo.Create(ctx, to, from)
	}
}

// 一个作者集合下的 keyset 翻页：ALL 与 FOLLOWING 两种查询形态
func BenchmarkTimelinePage(b *testing.B) {
	db := setupBenchDB(b)
	ctx := context.Background()
	users := seedBenchUsers(b, db, 200)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	posts := make([]model.Post, 0, len(users)*50)
	for i, u := range users {
		for j := 0; j < 50; j++ {
			at := base.Add(time.Duration(i*50+j) * time.Second)
			posts = append(posts, model.Post{ID: fmt.Sprintf("p%s-%02d", u.ID, j), AuthorID: u.ID, Text: "bench", CreatedAt: at, UpdatedAt: at})
		}
	}
	if err := db.CreateInBatches(&posts, 500).Error; err != nil {
		b.Fatalf("seed posts: %v", err)
	}

	store := NewTimelineStore(NewPostRepository(db), NewRepostRepository(db))
	following := make([]string, 0, 50)
	for _, u := range users[1:51] {
		following = append(following, u.ID)
	}

	for _, filter := range []timeline.Filter{timeline.FilterAll, timeline.FilterFollowing} {
		b.Run(filter.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				var cursor *timeline.Cursor
				for page := 0; page < 5; page++ {
					q, ok := timeline.BuildPageQuery(filter, users[0].ID, cursor, following, 20)
					if !ok {
						b.Fatal("query skipped")
					}
					rows, err := store.ListPosts(ctx, q)
					if err != nil {
						b.Fatal(err)
					}
					if len(rows) < 20 {
						break
					}
					last := rows[len(rows)-1]
					cursor = &timeline.Cursor{At: last.CreatedAt, ID: last.ID}
				}
			}
		})
	}
}

func BenchmarkQueryFansAndFollowing(b *testing.B) {
	db := setupBenchDB(b)
	followRepo := NewFollowRepository(db)
	fanRepo := NewFanRepository(db)
	ctx := context.Background()

	// 一个用户 u00000 有 N 个粉丝，同时也关注 N 个用户
	users := seedBenchUsers(b, db, 2001)
	u0 := users[0].ID
	for _, u := range users[1:] {
		_ = followRepo.Create(ctx, u.ID, u0)
		_ = fanRepo.Create(ctx, u0, u.ID)
		_ = followRepo.Create(ctx, u0, u.ID)
		_ = fanRepo.Create(ctx, u.ID, u0)
	}

	b.ResetTimer()
	b.Run("ListFans", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = fanRepo.ListFans(ctx, u0, 0, 50)
		}
	})
	b.Run("ListFollowingIDs", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = followRepo.ListFollowingIDs(ctx, u0)
		}
	})
}
