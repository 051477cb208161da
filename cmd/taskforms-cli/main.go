package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"go.uber.org/zap"

	taskforms "github.com/goliatone/go-taskforms"
	"github.com/goliatone/go-taskforms/internal/logging"
	"github.com/goliatone/go-taskforms/pkg/formservice/httpapi"
	"github.com/goliatone/go-taskforms/pkg/messages"
	"github.com/goliatone/go-taskforms/pkg/model"
	"github.com/goliatone/go-taskforms/pkg/renderers/tui"
	"github.com/goliatone/go-taskforms/pkg/testsupport"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	fixture := flag.String("fixture", "pkg/testsupport/testdata/invoices.yaml", "YAML process engine fixture")
	taskOrProcess := flag.String("id", "7", "task id, or process id to start")
	dynamic := flag.Bool("dynamic", false, "treat the id as a case definition")
	template := flag.String("template", "sample-server", "server template id")
	domain := flag.String("domain", "evaluation", "domain (container) id")
	runType := flag.String("run", string(model.RunTypeComplete), "submit action: start, claim, release, save or complete")
	output := flag.String("output", string(tui.OutputFormatPrettyText), "output format for submitted values: json, form or pretty")
	serve := flag.String("serve", "", "serve the HTTP API on this address instead of prompting")
	flag.Parse()

	cfg, err := taskforms.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := loadBackend(*fixture)
	if err != nil {
		log.Fatalf("Failed to load fixture: %v", err)
	}
	rt, err := taskforms.NewService(cfg, taskforms.Collaborators{
		Data:      backend,
		Forms:     backend,
		Documents: backend,
		Actions:   backend,
		Checker:   backend,
	}, taskforms.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to build form service: %v", err)
	}
	defer func() { _ = rt.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *serve != "" {
		if err := serveHTTP(ctx, *serve, rt, *template, *domain, logger); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	if err := prompt(ctx, rt, backend, *template, *domain, *taskOrProcess, *dynamic, model.RunType(*runType), tui.OutputFormat(*output), cfg.Locale); err != nil {
		if errors.Is(err, tui.ErrAborted) {
			os.Exit(130)
		}
		log.Fatalf("Failed: %v", err)
	}
}

func loadBackend(path string) (*testsupport.Backend, error) {
	fixture, err := testsupport.LoadFixture(path)
	if err != nil {
		return nil, err
	}
	return testsupport.NewBackend(fixture), nil
}

func prompt(ctx context.Context, rt *taskforms.Runtime, backend *testsupport.Backend, template, domain, id string, dynamic bool, runType model.RunType, format tui.OutputFormat, locale string) error {
	result, err := rt.Service.GetFormDisplay(ctx, template, domain, id, dynamic)
	if err != nil {
		return err
	}
	switch settings := result.(type) {
	case nil:
		return errors.New(rt.Catalog.Message(locale, notFoundKey(id, dynamic), map[string]any{"id": id, "name": id}))
	case *model.ExternalFormRenderingSettings:
		fmt.Println(settings.URL)
		return nil
	case *model.WorkbenchFormRenderingSettings:
		if settings.DefaultForms {
			fmt.Println(rt.Catalog.Message(locale, messages.KeyGeneratedFormHeader, nil))
		}
		renderer, err := tui.New(
			tui.WithOutputFormat(format),
			tui.WithLocalizer(rt.Catalog, locale),
			tui.WithTheme(tui.Theme{ErrorPrefix: "! ", WarnPrefix: "~ "}),
		)
		if err != nil {
			return err
		}
		values, _, err := renderer.Run(ctx, rt.Service, rt.NewEngine(locale), runType, settings)
		if err != nil {
			return err
		}
		out, err := renderer.Encode(values)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		for _, call := range backend.Calls() {
			fmt.Println(describe(rt.Catalog, locale, call))
		}
		return nil
	default:
		return fmt.Errorf("unexpected render result %T", result)
	}
}

func notFoundKey(id string, dynamic bool) string {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil && !dynamic {
		return messages.KeyUnableToFindFormForTask
	}
	return messages.KeyUnableToFindFormForProcess
}

func describe(catalog *messages.Catalog, locale string, call testsupport.Call) string {
	switch call.Action {
	case "complete":
		return catalog.Message(locale, messages.KeyTaskCompleted, map[string]any{"id": call.TaskID})
	case "save":
		return catalog.Message(locale, messages.KeyTaskSaved, map[string]any{"id": call.TaskID})
	case "startProcess":
		return catalog.Message(locale, messages.KeyProcessStarted, map[string]any{"id": call.ProcessID})
	default:
		return fmt.Sprintf("%s task %d", call.Action, call.TaskID)
	}
}

func serveHTTP(ctx context.Context, addr string, rt *taskforms.Runtime, template, domain string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	pattern, err := httpapi.RegisterRoutes(mux, "/", rt.Service,
		httpapi.WithDefaults(template, domain),
		httpapi.WithEngines(rt.NewEngine),
		httpapi.WithLocalizer(rt.Catalog),
		httpapi.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("serving form API", zap.String("addr", addr), zap.String("path", pattern))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
