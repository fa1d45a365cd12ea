package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsscheduler "github.com/aws/aws-sdk-go-v2/service/scheduler"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"lead-qualifier/handler"
	"lead-qualifier/internal/cache"
	"lead-qualifier/internal/debounce"
	"lead-qualifier/internal/integrations/eventscheduler"
	"lead-qualifier/internal/integrations/openai"
	"lead-qualifier/internal/integrations/paramstore"
	"lead-qualifier/internal/integrations/whapi"
	"lead-qualifier/internal/repository"
	"lead-qualifier/internal/usecase"
)

const processPath = "/buffer/process"

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	whapiURL := mustEnv("WHAPI_API_URL")
	targetARN := mustEnv("SCHEDULER_TARGET_ARN")
	roleARN := mustEnv("SCHEDULER_ROLE_ARN")
	schedulerGroup := envOr("SCHEDULER_GROUP", "default")
	leadIndex := envOr("LEAD_INDEX_NAME", "GSI1")
	bufferDelay := time.Duration(envInt("BUFFER_DELAY_SECONDS", 90)) * time.Second
	cacheTTL := time.Duration(envInt("CACHE_TTL_SECONDS", 600)) * time.Second
	cacheMax := envInt("CACHE_MAX_ENTRIES", 1000)
	paramTTL := time.Duration(envInt("PARAM_CACHE_SECONDS", 300)) * time.Second
	maxParallel := envInt("MAX_PARALLEL_CONVERSATIONS", 8)
	openers := usecase.Openers{
		AgentName:  os.Getenv("AGENT_NAME"),
		ProfileURL: os.Getenv("PROFILE_URL"),
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	params, err := paramstore.NewCached(ssmClient, paramTTL)
	if err != nil {
		slog.Error("failed to create parameter cache", "err", err)
		os.Exit(1)
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable, repository.WithLeadIndex(leadIndex))
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(params, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	whapiClient, err := whapi.NewClient(params, whapiURL, paramPrefix)
	if err != nil {
		slog.Error("failed to create Whapi client", "err", err)
		os.Exit(1)
	}

	tasks, err := eventscheduler.New(awsscheduler.NewFromConfig(cfg), eventscheduler.Config{
		GroupName: schedulerGroup,
		TargetARN: targetARN,
		RoleARN:   roleARN,
	})
	if err != nil {
		slog.Error("failed to create scheduler client", "err", err)
		os.Exit(1)
	}
	debouncer, err := debounce.New(tasks, bufferDelay, processPath)
	if err != nil {
		slog.Error("failed to create debouncer", "err", err)
		os.Exit(1)
	}

	// ---- Use cases ----
	settings, err := usecase.NewSettings(params, paramPrefix)
	if err != nil {
		slog.Error("failed to create settings", "err", err)
		os.Exit(1)
	}
	assistant, err := usecase.NewAssistant(openaiClient, settings)
	if err != nil {
		slog.Error("failed to create assistant", "err", err)
		os.Exit(1)
	}
	resolver, err := usecase.NewResolver(cache.New(cacheTTL, cacheMax), store, store, store, assistant, whapiClient,
		usecase.WithOpeners(openers))
	if err != nil {
		slog.Error("failed to create state resolver", "err", err)
		os.Exit(1)
	}
	dispatcher, err := usecase.NewDispatcher(assistant, whapiClient, store, store, settings)
	if err != nil {
		slog.Error("failed to create dispatcher", "err", err)
		os.Exit(1)
	}
	engine, err := usecase.NewEngine(store, assistant, store, whapiClient, dispatcher)
	if err != nil {
		slog.Error("failed to create dialogue engine", "err", err)
		os.Exit(1)
	}
	intake, err := usecase.NewIntake(resolver, store, debouncer, engine, usecase.WithMaxParallel(maxParallel))
	if err != nil {
		slog.Error("failed to create intake", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(intake, resolver)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
