package main

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/skyframe/internal/app"
	"github.com/d60-Lab/skyframe/internal/model"
)

type benchOptions struct {
	users    int
	maxPages int
}

type chainStats struct {
	pages      int
	items      int
	fallbacks  int
	duplicates int
}

func newBenchCmd() *cobra.Command {
	var o benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Walk cursor chains and report latency and duplicate counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runBench(ctx, cmd, a, o)
			})
		},
	}
	cmd.Flags().IntVar(&o.users, "users", 10, "number of users to walk (plus one anonymous chain)")
	cmd.Flags().IntVar(&o.maxPages, "max-pages", 200, "stop a chain after this many pages")
	return cmd
}

func runBench(ctx context.Context, cmd *cobra.Command, a *app.App, o benchOptions) error {
	var users []model.User
	if err := a.DB.WithContext(ctx).Order("id").Limit(o.users).Find(&users).Error; err != nil {
		return err
	}
	ids := []uint64{0}
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	var latencies []time.Duration
	var total chainStats
	for _, uid := range ids {
		st, lat, err := walkChain(ctx, a, uid, o.maxPages)
		if err != nil {
			return fmt.Errorf("user %d: %w", uid, err)
		}
		latencies = append(latencies, lat...)
		total.pages += st.pages
		total.items += st.items
		total.fallbacks += st.fallbacks
		total.duplicates += st.duplicates
		cmd.Printf("user=%d pages=%d items=%d fallback=%d dup=%d\n", uid, st.pages, st.items, st.fallbacks, st.duplicates)
	}

	var sum time.Duration
	for _, d := range latencies {
		sum += d
	}
	avg := time.Duration(0)
	if len(latencies) > 0 {
		avg = sum / time.Duration(len(latencies))
	}
	cmd.Printf("chains=%d pages=%d items=%d fallback=%d dup=%d\n", len(ids), total.pages, total.items, total.fallbacks, total.duplicates)
	cmd.Printf("FetchPage latency: avg=%v p50=%v p95=%v p99=%v\n", avg, pct(latencies, 0.50), pct(latencies, 0.95), pct(latencies, 0.99))
	if total.duplicates > 0 {
		return fmt.Errorf("found %d duplicate ids across cursor chains", total.duplicates)
	}
	return nil
}

// walkChain 沿游标翻页直到结束或进入 fallback。fallback 页不参与去重统计。
func walkChain(ctx context.Context, a *app.App, userID uint64, maxPages int) (chainStats, []time.Duration, error) {
	var st chainStats
	var lat []time.Duration
	seen := make(map[uint64]struct{})
	cursor := ""
	for st.pages < maxPages {
		started := time.Now()
		page, err := a.Engine.FetchPage(ctx, userID, cursor)
		if err != nil {
			return st, lat, err
		}
		lat = append(lat, time.Since(started))
		st.pages++
		st.items += len(page.Images)
		if page.Fallback {
			st.fallbacks++
			break
		}
		for _, img := range page.Images {
			if _, dup := seen[img.ID]; dup {
				st.duplicates++
			}
			seen[img.ID] = struct{}{}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return st, lat, nil
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
