package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Rrens/flowbot/internal/config"
	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/repository/file"
	"github.com/Rrens/flowbot/internal/repository/mongo"
	"github.com/Rrens/flowbot/internal/repository/postgres"
	"github.com/Rrens/flowbot/internal/repository/redis"
	"github.com/Rrens/flowbot/internal/repository/sqlstore"
	"github.com/Rrens/flowbot/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// publisher activates a graph for a tenant and returns the activation id
type publisher interface {
	Publish(ctx context.Context, tenantID, name string, graph *domain.Graph) (string, error)
}

func openPublisher(ctx context.Context, cfg *config.Config) (publisher, func(), error) {
	switch cfg.Graph.Source {
	case "postgres", "":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewGraphRepository(db.Pool), db.Close, nil
	case "sql":
		store, err := sqlstore.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "mongo":
		client, src, err := mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { client.Disconnect(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("graph source %q does not support publishing", cfg.Graph.Source)
	}
}

func newPublishCommand() *cobra.Command {
	var tenantID, name string

	cmd := &cobra.Command{
		Use:   "publish <graph-file>",
		Short: "Activate a graph for a tenant in the configured graph source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := file.Load(args[0])
			if err != nil {
				return err
			}
			if issues := validateGraph(g); hasErrors(issues) {
				for _, is := range issues {
					fmt.Fprintln(cmd.ErrOrStderr(), is)
				}
				return fmt.Errorf("%s: refusing to publish a graph with errors", args[0])
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pub, closeFn, err := openPublisher(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			activationID, err := pub.Publish(ctx, tenantID, name, g)
			if err != nil {
				return err
			}

			if cfg.Redis.Enabled {
				if client, err := redis.NewClient(ctx, cfg.Redis); err != nil {
					log.Warn().Err(err).Msg("Published, but the graph cache could not be invalidated")
				} else {
					defer client.Close()
					if err := redis.NewGraphCache(client, nil, 0).Invalidate(ctx, tenantID); err != nil {
						log.Warn().Err(err).Msg("Published, but the graph cache could not be invalidated")
					}
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %q for tenant %s: activation %s\n", name, tenantID, activationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id to activate the graph for")
	cmd.Flags().StringVar(&name, "name", "", "Flow name (defaults to the file name)")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		userID  string
		email   string
		tenants []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET must be set")
			}

			id := uuid.New()
			if userID != "" {
				if id, err = uuid.Parse(userID); err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
			}

			jwt := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
			token, err := jwt.GenerateAccessToken(id, email, tenants)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Operator uuid (random when empty)")
	cmd.Flags().StringVar(&email, "email", "", "Operator email")
	cmd.Flags().StringSliceVar(&tenants, "tenant", nil, `Tenant the token may access, "*" for all`)
	cmd.MarkFlagRequired("tenant")
	return cmd
}
