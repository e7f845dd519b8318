package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/socialfeed/config"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/internal/timeline"
	"github.com/d60-Lab/socialfeed/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

// staticResolver 绕过 redis，直接返回预先种好的关注列表
type staticResolver []string

func (r staticResolver) ResolveFollowing(context.Context, string) ([]string, error) { return r, nil }

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db); err != nil {
		panic(err)
	}
	ctx := context.Background()

	// params
	AUTHORS := envInt("AUTHORS", 200)    // distinct authors
	POSTS := envInt("POSTS", 50)         // posts per author
	REPOSTS := envInt("REPOSTS", 10)     // reposts per author
	FOLLOWING := envInt("FOLLOWING", 50) // authors the viewer follows
	PAGE := envInt("PAGE", 20)
	RUNS := envInt("RUNS", 20)

	// clean tables for a reproducible run (ok for local bench)
	_ = db.Exec("TRUNCATE TABLE outbox, likes, credentials, reposts, posts, fans, follows, users RESTART IDENTITY CASCADE").Error

	users := make([]model.User, AUTHORS+1)
	for i := range users {
		id := uuid.New().String()
		users[i] = model.User{ID: id, DisplayName: "u" + id[:8], Icon: model.DefaultIcon, Email: id[:8] + "@example.com"}
	}
	_ = db.CreateInBatches(&users, 1000).Error
	viewer := users[0].ID
	authors := users[1:]

	// 直接批量插入，不经过 outbox，避免 relay 的压力影响读路径测量
	base := time.Now().UTC().Add(-time.Duration(AUTHORS*POSTS) * time.Second)
	posts := make([]model.Post, 0, AUTHORS*POSTS)
	for i, a := range authors {
		for j := 0; j < POSTS; j++ {
			at := base.Add(time.Duration(i*POSTS+j) * time.Second)
			posts = append(posts, model.Post{ID: uuid.New().String(), AuthorID: a.ID, Text: fmt.Sprintf("hello %d", j), CreatedAt: at, UpdatedAt: at})
		}
	}
	_ = db.CreateInBatches(&posts, 1000).Error

	rng := rand.New(rand.NewSource(1))
	reposts := make([]model.Repost, 0, AUTHORS*REPOSTS)
	seen := make(map[string]bool)
	for _, a := range authors {
		for j := 0; j < REPOSTS; j++ {
			p := posts[rng.Intn(len(posts))]
			if seen[a.ID+p.ID] {
				continue
			}
			seen[a.ID+p.ID] = true
			reposts = append(reposts, model.Repost{ID: uuid.New().String(), PostID: p.ID, UserID: a.ID, CreatedAt: p.CreatedAt.Add(time.Duration(rng.Intn(3600)) * time.Second)})
		}
	}
	_ = db.CreateInBatches(&reposts, 1000).Error

	following := make([]string, 0, FOLLOWING)
	followRepo := repository.NewFollowRepository(db)
	for i := 0; i < FOLLOWING && i < len(authors); i++ {
		_ = followRepo.Create(ctx, viewer, authors[i].ID)
		following = append(following, authors[i].ID)
	}

	store := repository.NewTimelineStore(repository.NewPostRepository(db), repository.NewRepostRepository(db))

	fmt.Printf("AUTHORS=%d POSTS=%d REPOSTS=%d FOLLOWING=%d PAGE=%d RUNS=%d\n", AUTHORS, POSTS, len(reposts), FOLLOWING, PAGE, RUNS)
	for _, filter := range []timeline.Filter{timeline.FilterAll, timeline.FilterFollowing} {
		var first, more []time.Duration
		total := 0
		for r := 0; r < RUNS; r++ {
			s := timeline.NewSession(store, staticResolver(following), timeline.WithPageSize(PAGE))
			st := time.Now()
			entries, err := s.Fetch(ctx, timeline.Options{Filter: filter, UserID: viewer})
			if err != nil {
				panic(err)
			}
			first = append(first, time.Since(st))
			total = len(entries)
			// 只测前 10 页，完整翻页在大数据量下没有意义
			for p := 0; p < 10 && s.HasMore(); p++ {
				st := time.Now()
				page, err := s.LoadMore(ctx)
				if err != nil {
					panic(err)
				}
				more = append(more, time.Since(st))
				total += len(page)
			}
			s.Close()
		}
		fmt.Printf("[%s] first page: p50=%v p95=%v p99=%v\n", filter, pct(first, 0.50), pct(first, 0.95), pct(first, 0.99))
		fmt.Printf("[%s] load more:  p50=%v p95=%v p99=%v samples=%d entries/run=%d\n", filter, pct(more, 0.50), pct(more, 0.95), pct(more, 0.99), len(more), total)
	}
}
