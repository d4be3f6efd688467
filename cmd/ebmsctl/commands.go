package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/sirosfoundation/go-ebms/internal/config"
	"github.com/sirosfoundation/go-ebms/pkg/msh"
	"github.com/sirosfoundation/go-ebms/pkg/pmode"
	"github.com/sirosfoundation/go-ebms/pkg/transport"
)

// errInvalidPModes is returned by validate when a document has problems
var errInvalidPModes = errors.New("invalid pmodes found")

func validateFile(path string, out io.Writer) error {
	fs, err := pmode.OpenFileStore(path)
	if err != nil {
		return err
	}
	pms, err := fs.List(context.Background(), false)
	if err != nil {
		return err
	}

	invalid := 0
	for _, pm := range pms {
		res := pmode.Validate(pm)
		if _, ok := res.Ok(); !ok {
			invalid++
			fmt.Fprintf(out, "%s: invalid\n", pm.ID)
		} else {
			fmt.Fprintf(out, "%s: ok\n", pm.ID)
		}
		for _, p := range res.Problems() {
			fmt.Fprintf(out, "  error   %s\n", p)
		}
		for _, w := range res.Warnings() {
			fmt.Fprintf(out, "  warning %s\n", w)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidPModes, invalid, len(pms))
	}
	return nil
}

func importFile(ctx context.Context, cfg *config.Config, logger *slog.Logger, path string, out io.Writer) error {
	src, err := pmode.OpenFileStore(path)
	if err != nil {
		return err
	}
	pms, err := src.List(ctx, false)
	if err != nil {
		return err
	}

	store, cleanup, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	resolver := pmode.NewResolver(store, logger)

	for _, pm := range pms {
		if _, err := resolver.Put(ctx, pm); err != nil {
			return err
		}
		fmt.Fprintf(out, "imported %s\n", pm.ID)
	}

	defaultID, err := src.DefaultID(ctx)
	if err != nil {
		return err
	}
	if defaultID != "" {
		return resolver.SetDefaultID(ctx, defaultID)
	}
	return nil
}

func list(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	store, cleanup, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	pms, err := pmode.NewResolver(store, logger).List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMEP\tBINDING\tSERVICE\tACTION\tUPDATED")
	for _, pm := range pms {
		var service, action string
		if pm.Leg1 != nil && pm.Leg1.BusinessInfo != nil {
			service, action = pm.Leg1.BusinessInfo.Service, pm.Leg1.BusinessInfo.Action
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", pm.ID, pm.MEP.ID(), pm.Binding.ID(),
			service, action, pm.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func resolve(ctx context.Context, cfg *config.Config, logger *slog.Logger, id string, out io.Writer) error {
	store, cleanup, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	resolver := pmode.NewResolver(store, logger)
	if cfg.Engine.DefaultPModeID != "" {
		if err := resolver.SetDefaultID(ctx, cfg.Engine.DefaultPModeID); err != nil {
			return err
		}
	}
	pm, err := resolver.Resolve(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "pmode:   %s\n", pm.ID)
	fmt.Fprintf(out, "mep:     %s\n", pm.MEP.ID())
	fmt.Fprintf(out, "binding: %s\n", pm.Binding.ID())
	for n := 1; n <= pm.LegCount(); n++ {
		policy := pm.PolicyForLeg(n)
		retries := "unbounded"
		if policy.MaxRetries != pmode.Unbounded {
			retries = fmt.Sprint(policy.MaxRetries)
		}
		fmt.Fprintf(out, "leg %d:   retry=%t retries=%s interval=%s duplicates=%t\n",
			n, policy.RetryEnabled(), retries, policy.RetryInterval, policy.DetectDuplicates())
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ledger, closeLedger, err := openLedger(cfg.Ledger)
	if err != nil {
		return err
	}
	defer closeLedger()

	resolver := pmode.NewResolver(store, logger)
	if cfg.Engine.DefaultPModeID != "" {
		if err := resolver.SetDefaultID(ctx, cfg.Engine.DefaultPModeID); err != nil {
			return err
		}
	}

	cc, err := clientConfig(cfg.Client)
	if err != nil {
		return err
	}
	sc, err := serverConfig(cfg.Server)
	if err != nil {
		return err
	}

	engine, err := msh.New(msh.Config{
		PModes:    resolver,
		Ledger:    ledger,
		Transport: transport.NewHTTPSClient(cc),
		TempDir:   cfg.Engine.TempDir,
		Retention: cfg.Engine.Retention,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	server := transport.NewHTTPSServer(cfg.Server.Address, sc, engine)
	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()
	logger.Info("message service handler listening", slog.String("address", cfg.Server.Address))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
