// export-schema writes a schema snapshot for the curated planning tables by
// querying the SQL Server datasource configured in config.yaml.
// The server loads this file at startup when live discovery is off.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/adapters/datasource/mssql"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/config"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/schema"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/sql"
)

func main() {
	out := flag.String("out", "", "Snapshot path (defaults to guard.snapshot_path)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Timeout for discovery")
	flag.Parse()

	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logger, _ := logConfig.Build()
	defer logger.Sync()

	if err := run(*out, *timeout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "export-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(out string, timeout time.Duration, logger *zap.Logger) error {
	cfg, err := config.Load("export-schema")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Datasource.Enabled() {
		return fmt.Errorf("datasource.host is not configured")
	}
	if out == "" {
		out = cfg.Guard.SnapshotPath
	}

	validator, err := sql.NewValidator(sql.ValidatorConfig{
		DefaultRowCap:       cfg.Guard.DefaultRowCap,
		MaxRowCap:           cfg.Guard.MaxRowCap,
		AllowedTablePattern: cfg.Guard.AllowedTablePattern,
		SampleTable:         cfg.Guard.SelfCheckTable,
	})
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ds := cfg.Datasource
	discoverer, err := mssql.NewSchemaDiscoverer(ctx, &mssql.Config{
		Host:                   ds.Host,
		Port:                   ds.Port,
		Database:               ds.Database,
		AuthMethod:             ds.AuthMethod,
		Username:               ds.Username,
		Password:               ds.Password,
		TenantID:               ds.TenantID,
		ClientID:               ds.ClientID,
		ClientSecret:           ds.ClientSecret,
		Encrypt:                ds.Encrypt,
		TrustServerCertificate: ds.TrustServerCertificate,
		ConnectionTimeout:      ds.ConnectionTimeoutSeconds,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to datasource: %w", err)
	}
	defer discoverer.Close()

	loader := &schema.DiscoveryLoader{
		Discoverer: discoverer,
		Include:    validator.IsAllowedTable,
		Source:     ds.Host + "/" + ds.Database,
		Logger:     logger,
	}
	snap, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	if err := schema.WriteSnapshot(out, snap); err != nil {
		return err
	}

	columns := 0
	for _, t := range snap.Tables {
		columns += len(t.Columns)
	}
	fmt.Printf("Wrote %d tables (%d columns) to %s\n", len(snap.Tables), columns, out)
	return nil
}
