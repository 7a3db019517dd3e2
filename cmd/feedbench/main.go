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
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/microblog/config"
	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/repository"
	"github.com/d60-Lab/microblog/internal/search"
	"github.com/d60-Lab/microblog/internal/service"
	"github.com/d60-Lab/microblog/pkg/database"
)

// 随机生成的关注边可能重复
var onConflictIgnore = clause.OnConflict{DoNothing: true}

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

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db, model.All()...); err != nil {
		panic(err)
	}

	accounts := envInt("ACCOUNTS", 2000)  // number of accounts
	following := envInt("FOLLOWING", 50)  // followees per account
	postsEach := envInt("POSTS", 20)      // posts per account
	reads := envInt("READS", 500)         // timeline page reads
	publishes := envInt("PUBLISHES", 200) // posts published through the service
	maxPage := envInt("MAX_PAGE", 5)

	// clean tables for a reproducible run (ok for local bench)
	_ = db.Exec("DELETE FROM outbox").Error
	_ = db.Exec("DELETE FROM posts").Error
	_ = db.Exec("DELETE FROM follows").Error
	_ = db.Exec("DELETE FROM accounts").Error

	rng := rand.New(rand.NewSource(1))
	ids := make([]string, accounts)
	rows := make([]model.Account, accounts)
	for i := range rows {
		id := uuid.NewString()
		ids[i] = id
		rows[i] = model.Account{ID: id, Username: "u" + id[:8], Email: id[:8] + "@example.com", PasswordHash: "x"}
	}
	if err := db.CreateInBatches(&rows, 500).Error; err != nil {
		panic(err)
	}

	var edges []model.Follow
	for _, follower := range ids {
		for j := 0; j < following; j++ {
			followee := ids[rng.Intn(len(ids))]
			if followee != follower {
				edges = append(edges, model.Follow{FollowerID: follower, FolloweeID: followee})
			}
		}
	}
	if err := db.Clauses(onConflictIgnore).CreateInBatches(&edges, 1000).Error; err != nil {
		panic(err)
	}

	base := time.Now().UTC().Add(-time.Duration(accounts*postsEach) * time.Second)
	var seeded []model.Post
	for i, author := range ids {
		for j := 0; j < postsEach; j++ {
			seeded = append(seeded, model.Post{
				ID:        uuid.NewString(),
				Body:      fmt.Sprintf("seed post %d from %d", j, i),
				AuthorID:  author,
				CreatedAt: base.Add(time.Duration(rng.Intn(accounts*postsEach)) * time.Second),
			})
		}
	}
	if err := db.CreateInBatches(&seeded, 1000).Error; err != nil {
		panic(err)
	}

	registry := search.NewRegistry("")
	if err := registry.Register(model.Post{}); err != nil {
		panic(err)
	}
	// 不连接搜索后端，只测关系库路径
	sync := must(search.New(db, nil, registry, search.Options{}))

	accountRepo := repository.NewAccountRepository(db)
	postRepo := repository.NewPostRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	feed := service.NewFeedAssembler(postRepo, cfg.Feed.PostsPerPage)
	posts := service.NewPostService(accountRepo, postRepo, outboxRepo, sync, cfg.Feed.PostsPerPage)

	pubDurations := make([]time.Duration, 0, publishes)
	for i := 0; i < publishes; i++ {
		st := time.Now()
		if _, err := posts.Publish(ctx, ids[rng.Intn(len(ids))], fmt.Sprintf("hello %d", i)); err != nil {
			panic(err)
		}
		pubDurations = append(pubDurations, time.Since(st))
	}

	readDurations := make([]time.Duration, 0, reads)
	var items int
	for i := 0; i < reads; i++ {
		st := time.Now()
		page, err := feed.Timeline(ctx, ids[rng.Intn(len(ids))], 1+rng.Intn(maxPage))
		if err != nil {
			panic(err)
		}
		readDurations = append(readDurations, time.Since(st))
		items += len(page.Items)
	}

	fmt.Printf("ACCOUNTS=%d FOLLOWING=%d POSTS=%d PAGE_SIZE=%d driver=%s\n",
		accounts, following, postsEach, feed.PageSize(), cfg.Database.Driver)
	fmt.Printf("Publish tx latency: avg=%v p95=%v p99=%v\n", avg(pubDurations), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	fmt.Printf("Timeline page read: samples=%d avg=%v p95=%v p99=%v items/page=%.1f\n",
		len(readDurations), avg(readDurations), pct(readDurations, 0.95), pct(readDurations, 0.99), float64(items)/float64(reads))
}
