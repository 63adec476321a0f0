package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/d60-Lab/skyframe/internal/app"
	"github.com/d60-Lab/skyframe/internal/model"
)

type seedOptions struct {
	users         int
	imagesPerUser int
	follows       int
	likes         int
	days          int
	seed          uint64
}

var (
	seedCategories = []string{"deep-sky", "planetary", "lunar", "solar", "wide-field", "comet"}
	seedObjects    = []string{"M31", "M42", "M45", "NGC 7000", "Jupiter", "Saturn", "Moon", "Sun", "C/2023 A3"}
	seedFilters    = []string{"L", "Ha", "OIII", "SII", "RGB", ""}
	seedTags       = []string{"#widefield", "#narrowband", "#mosaic", "#firstlight", "#backyard", "#darksky"}
)

func newSeedCmd() *cobra.Command {
	var o seedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo users, images, follows and likes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runSeed(ctx, cmd, a, o)
			})
		},
	}
	cmd.Flags().IntVar(&o.users, "users", 50, "number of users")
	cmd.Flags().IntVar(&o.imagesPerUser, "images", 40, "images per user")
	cmd.Flags().IntVar(&o.follows, "follows", 8, "follows per user")
	cmd.Flags().IntVar(&o.likes, "likes", 30, "likes per user")
	cmd.Flags().IntVar(&o.days, "days", 60, "spread image upload times over this many days")
	cmd.Flags().Uint64Var(&o.seed, "seed", 1, "random seed")
	return cmd
}

func runSeed(ctx context.Context, cmd *cobra.Command, a *app.App, o seedOptions) error {
	if o.users < 1 {
		return fmt.Errorf("--users must be positive")
	}
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x5eed))
	hash, err := bcrypt.GenerateFromPassword([]byte("skyframe"), bcrypt.MinCost)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	users := make([]model.User, o.users)
	for i := range users {
		users[i] = model.User{
			Username:     fmt.Sprintf("observer%03d", i+1),
			Email:        fmt.Sprintf("observer%03d@example.com", i+1),
			PasswordHash: string(hash),
			CreatedAt:    now,
		}
	}
	if err := a.DB.WithContext(ctx).CreateInBatches(&users, 500).Error; err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	span := time.Duration(o.days) * 24 * time.Hour
	images := make([]model.Image, 0, o.users*o.imagesPerUser)
	for _, u := range users {
		for j := 0; j < o.imagesPerUser; j++ {
			created := now.Add(-time.Duration(rng.Int64N(int64(span) + 1))).Truncate(time.Second)
			images = append(images, model.Image{
				UserID:       u.ID,
				Category:     pick(rng, seedCategories),
				ObjectName:   pick(rng, seedObjects),
				ObserverName: u.Username,
				ObservedAt:   created.Add(-time.Duration(rng.IntN(72)) * time.Hour),
				Filter:       pick(rng, seedFilters),
				Notes:        fmt.Sprintf("Session %d %s %s", j+1, pick(rng, seedTags), pick(rng, seedTags)),
				CreatedAt:    created,
				UpdatedAt:    created,
			})
		}
	}
	if err := a.DB.WithContext(ctx).CreateInBatches(&images, 500).Error; err != nil {
		return fmt.Errorf("seed images: %w", err)
	}

	var follows, likes int
	for _, u := range users {
		for k := 0; k < o.follows && len(users) > 1; k++ {
			to := users[rng.IntN(len(users))].ID
			if to == u.ID {
				continue
			}
			if err := a.Follows.Create(ctx, u.ID, to); err != nil {
				return fmt.Errorf("seed follows: %w", err)
			}
			follows++
		}
		for k := 0; k < o.likes && len(images) > 0; k++ {
			if err := a.Likes.Create(ctx, u.ID, images[rng.IntN(len(images))].ID); err != nil {
				return fmt.Errorf("seed likes: %w", err)
			}
			likes++
		}
	}

	cmd.Printf("seeded users=%d images=%d follows<=%d likes<=%d\n", len(users), len(images), follows, likes)
	return nil
}

func pick(rng *rand.Rand, xs []string) string { return xs[rng.IntN(len(xs))] }
