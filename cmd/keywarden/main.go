// CLI operativa de keywarden: rotación manual, listado y sweep del keyset
// durable, y generación de la clave maestra de cifrado.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/keywarden/internal/config"
	"github.com/dropDatabas3/keywarden/internal/keyset"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

var (
	configPath string
	envFile    string
)

func main() {
	root := &cobra.Command{
		Use:           "keywarden",
		Short:         "Operaciones sobre el keyset de firma",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "ruta del YAML de configuración")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "archivo .env opcional")

	keys := &cobra.Command{Use: "keys", Short: "Gestión del keyset durable"}
	keys.AddCommand(keysListCmd(), keysRotateCmd(), keysSweepCmd())
	root.AddCommand(keys, genMasterKeyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup carga config y arma el Store sobre el respaldo durable configurado.
// El driver memory no tiene nada que operar desde afuera.
func setup(ctx context.Context) (*config.Config, *keyset.Store, func(), error) {
	_ = godotenv.Load(envFile)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: "warn"})

	cleanup := func() {}
	var durable keyset.Durable
	switch cfg.Keys.Store {
	case "fs":
		fs, err := keyset.NewFSStore(cfg.Keys.FSDir)
		if err != nil {
			return nil, nil, nil, err
		}
		durable = fs
	case "postgres":
		pg, err := keyset.NewPGStore(ctx, cfg.Keys.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, nil, err
		}
		durable = pg
		cleanup = pg.Close
	default:
		return nil, nil, nil, fmt.Errorf("keys.store=%s no tiene respaldo durable para operar", cfg.Keys.Store)
	}

	store := keyset.NewStore(keyset.StoreConfig{
		OverlapWindow: cfg.OverlapWindow(),
		MaxTokenTTL:   cfg.TokenTTL(),
		MaxActiveKeys: cfg.Keys.MaxActiveKeys,
	}, durable)
	if err := store.LoadDurable(ctx); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return cfg, store, cleanup, nil
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista las claves del keyset con su estado",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KID\tALG\tSTATUS\tCREATED\tRETIRED\tPURGE")
			for _, k := range store.All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					k.KID, k.Alg, k.Status,
					k.CreatedAt.Format(time.RFC3339),
					fmtTime(k.RetiredAt), fmtTime(k.PurgeAt))
			}
			return tw.Flush()
		},
	}
}

func keysRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Genera una clave nueva y la promueve a active",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, store, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			factory := keyset.NewFactory(cfg.Keys.Algorithm, cfg.Keys.RSABits)
			k, err := factory.Generate()
			if err != nil {
				return err
			}
			if err := store.Promote(ctx, k); err != nil {
				return err
			}
			fmt.Printf("clave promovida: %s (%s)\n", k.KID, k.Alg)
			return nil
		},
	}
}

func keysSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Aplica las transiciones de ciclo de vida pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			expired, removed := store.Sweep(ctx, time.Now().UTC())
			fmt.Printf("sweep: %d expiradas, %d removidas\n", expired, removed)
			return nil
		},
	}
}

func genMasterKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-masterkey",
		Short: "Genera una SIGNING_MASTER_KEY nueva (base64, 32 bytes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var b [32]byte
			if _, err := rand.Read(b[:]); err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(b[:]))
			return nil
		},
	}
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
