package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/socialfeed/config"
	"github.com/d60-Lab/socialfeed/internal/model"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/internal/service"
	"github.com/d60-Lab/socialfeed/pkg/cache"
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

// 对比 FOLLOWING 时间线解析关注集合时冷（DB）与热（redis list）两条路径
func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	rdb := must(cache.NewRedis(cfg))
	defer rdb.Close()
	if err := database.Migrate(db); err != nil {
		panic(err)
	}

	VIEWERS := envInt("VIEWERS", 50)
	FOLLOWING := envInt("FOLLOWING", 2000)
	ROUNDS := envInt("ROUNDS", 200)

	_ = db.Exec("TRUNCATE TABLE follows, fans, users RESTART IDENTITY CASCADE").Error

	users := make([]model.User, VIEWERS+FOLLOWING)
	for i := range users {
		id := uuid.NewString()
		users[i] = model.User{ID: id, DisplayName: "u" + id[:8], Icon: model.DefaultIcon, Email: id[:8] + "@example.com"}
	}
	_ = db.CreateInBatches(&users, 1000).Error
	viewers, authors := users[:VIEWERS], users[VIEWERS:]

	follows := make([]model.Follow, 0, VIEWERS*FOLLOWING)
	base := time.Now()
	for _, v := range viewers {
		for i, a := range authors {
			follows = append(follows, model.Follow{ID: uuid.NewString(), FollowerID: v.ID, FolloweeID: a.ID, CreatedAt: base.Add(-time.Duration(i) * time.Second)})
		}
	}
	_ = db.CreateInBatches(&follows, 1000).Error
	fmt.Printf("seeded viewers=%d following=%d\n", VIEWERS, FOLLOWING)

	followRepo := repository.NewFollowRepository(db)
	direct := service.NewFollowingResolver(followRepo, nil, 0)
	cached := service.NewFollowingResolver(followRepo, rdb, 10*time.Minute)
	for _, v := range viewers {
		cached.Invalidate(ctx, v.ID)
	}

	run := func(name string, r *service.FollowingResolver) {
		lat := make([]time.Duration, 0, ROUNDS)
		for i := 0; i < ROUNDS; i++ {
			v := viewers[i%len(viewers)].ID
			st := time.Now()
			ids, err := r.ResolveFollowing(ctx, v)
			if err != nil {
				panic(err)
			}
			lat = append(lat, time.Since(st))
			if len(ids) != FOLLOWING {
				panic(fmt.Sprintf("viewer %s: got %d ids, want %d", v, len(ids), FOLLOWING))
			}
		}
		fmt.Printf("%-8s p50=%v p95=%v p99=%v\n", name, pct(lat, 0.50), pct(lat, 0.95), pct(lat, 0.99))
	}
	run("db", direct)
	run("redis", cached)
}
