package main

import (
	"context"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"matching-workers/internal/attributes"
	"matching-workers/internal/common/auth"
	awsclients "matching-workers/internal/common/aws"
	"matching-workers/internal/common/camunda"
	"matching-workers/internal/common/config"
	"matching-workers/internal/common/database"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/observability"
	"matching-workers/internal/common/validation"
	"matching-workers/internal/matching"
	"matching-workers/internal/notify"
	"matching-workers/internal/store"
	cm "matching-workers/internal/workers/matching/compute-matches"
	dl "matching-workers/internal/workers/matching/diagnose-listing"
	du "matching-workers/internal/workers/matching/diagnose-user"
	ec "matching-workers/internal/workers/matching/entity-changed"
	gma "matching-workers/internal/workers/matching/get-match-approval"
	gms "matching-workers/internal/workers/matching/get-match-stats"
	gwc "matching-workers/internal/workers/matching/get-weight-config"
	lma "matching-workers/internal/workers/matching/list-match-approvals"
	rt "matching-workers/internal/workers/matching/rescore-tenant"
	sma "matching-workers/internal/workers/matching/set-match-approval"
	swc "matching-workers/internal/workers/matching/set-weight-config"
	"matching-workers/pkg/registry"
)

// services is the matching core wired to its production backends.
type services struct {
	engine     *matching.Engine
	gate       *matching.Gate
	inspector  *matching.Inspector
	aggregator *matching.Aggregator
	configs    matching.ConfigProvider
	members    rt.MemberLister
	reviewers  sma.ReviewerResolver
	validator  *validation.Validator
}

func buildServices(ctx context.Context, cfg *config.Config, pg *database.PostgresClient, redis *database.RedisClient,
	es *database.ElasticsearchClient, log logger.Logger) (*services, error) {
	m := cfg.Matching

	if err := store.Migrate(ctx, pg.DB, log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	reg, err := registry.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("load activity registry: %w", err)
	}
	validator, err := validation.NewValidator(reg)
	if err != nil {
		return nil, fmt.Errorf("compile input schemas: %w", err)
	}

	snapshots := attributes.NewPostgresStore(pg.DB)
	attrs := attributes.NewCachedStore(snapshots, redis.Client, config.GetDuration(m.SnapshotCacheTTL), log)

	var source matching.CandidateSource = snapshots
	if m.CandidateSource == config.SourceElasticsearch {
		source = attributes.NewSearchSource(es.Client, cfg.Database.Elasticsearch.MemberIndex, cfg.Database.Elasticsearch.ListingIndex)
	}

	defaults := weightDefaults(m)
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("matching defaults: %w", err)
	}
	var configs matching.ConfigProvider
	if m.ConfigStore == config.StoreMemory {
		configs = matching.NewMemoryConfigStore(defaults)
	} else {
		configs = store.NewConfigStore(pg.DB, defaults, nil)
	}

	buckets, err := matching.ParseScoreBuckets(m.ScoreBuckets)
	if err != nil {
		return nil, fmt.Errorf("matching.score_buckets: %w", err)
	}

	notifier, err := buildNotifier(ctx, cfg.Notifications, configs, log)
	if err != nil {
		return nil, err
	}

	approvals := store.NewApprovalStore(pg.DB)
	cache := matching.NewCache(matching.CacheOptions{
		Shards:    m.Cache.Shards,
		TTL:       config.GetDuration(m.Cache.TTL),
		HitWindow: config.GetDuration(m.Cache.HitWindow),
	})
	gate := matching.NewGate(approvals, notifier, log, cache)
	generator := matching.NewGenerator(source, matching.GeneratorOptions{
		MaxCandidates:    m.MaxCandidates,
		PageSize:         m.PageSize,
		ExcludeConnected: m.ExcludeConnected,
	})

	svc := &services{
		engine:     matching.NewEngine(attrs, generator, cache, gate, configs, log, matching.EngineOptions{Concurrency: m.Concurrency}, attrs),
		gate:       gate,
		inspector:  matching.NewInspector(attrs, generator, configs, nil),
		aggregator: matching.NewAggregator(approvals, cache, configs, buckets),
		configs:    configs,
		members:    snapshots,
		validator:  validator,
	}

	kc := cfg.Auth.Keycloak
	if kc.URL != "" {
		svc.reviewers = auth.NewKeycloakClient(kc.URL, kc.Realm, kc.ClientID, kc.ClientSecret, kc.BrokerRole)
	} else {
		log.Warn("keycloak not configured; approvals trust reviewerId", nil)
	}
	return svc, nil
}

func weightDefaults(m config.MatchingConfig) matching.WeightConfig {
	out := matching.DefaultWeightConfig()
	if len(m.Weights) > 0 {
		out.Weights = m.Weights
	}
	out.BrokerApproval = m.BrokerApproval
	out.MinScore = m.MinScore
	out.HotThreshold = m.HotThreshold
	out.MaxDistanceKm = m.MaxDistanceKm
	return out
}

func buildNotifier(ctx context.Context, cfg config.NotificationConfig, configs matching.ConfigProvider, log logger.Logger) (matching.Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	awsCfg, err := awsclients.LoadConfig(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	var (
		snsClient awsclients.SNSPublisher
		sesClient awsclients.SESSender
	)
	if cfg.SNS.Enabled {
		snsClient = awsclients.NewSNSClient(awsCfg)
	}
	if cfg.Email.Enabled {
		sesClient = awsclients.NewSESClient(awsCfg)
	}
	return notify.NewBrokerNotifier(cfg, configs, snsClient, sesClient, log), nil
}

func startWorkers(client zbc.Client, cfg *config.Config, svc *services, obs *observability.Observability, log logger.Logger) []*camunda.Worker {
	workerCfg := func(taskType string) config.WorkerConfig { return config.GetWorkerConfig(cfg, taskType) }
	v := svc.validator

	var started []*camunda.Worker
	start := func(taskType string, handler camunda.JobHandlerFunc) {
		if w := camunda.StartWorker(client, taskType, workerCfg(taskType), handler, obs, log); w != nil {
			started = append(started, w)
		}
	}

	cmCfg := cm.DefaultConfig()
	cmCfg.Timeout = config.GetDuration(workerCfg(cm.TaskType).Timeout)
	start(cm.TaskType, cm.NewHandler(cmCfg, svc.engine, v, log).Handle)

	lmaCfg := lma.DefaultConfig()
	lmaCfg.Timeout = config.GetDuration(workerCfg(lma.TaskType).Timeout)
	start(lma.TaskType, lma.NewHandler(lmaCfg, svc.gate, v, log).Handle)

	smaCfg := sma.DefaultConfig()
	smaCfg.Timeout = config.GetDuration(workerCfg(sma.TaskType).Timeout)
	smaCfg.RequireToken = svc.reviewers != nil
	start(sma.TaskType, sma.NewHandler(smaCfg, svc.gate, svc.reviewers, v, log).Handle)

	gmaCfg := gma.DefaultConfig()
	gmaCfg.Timeout = config.GetDuration(workerCfg(gma.TaskType).Timeout)
	start(gma.TaskType, gma.NewHandler(gmaCfg, svc.gate, v, log).Handle)

	gmsCfg := gms.DefaultConfig()
	gmsCfg.Timeout = config.GetDuration(workerCfg(gms.TaskType).Timeout)
	gmsCfg.DefaultWindowHours = cfg.Matching.StatsWindowHours
	start(gms.TaskType, gms.NewHandler(gmsCfg, svc.aggregator, v, log).Handle)

	duCfg := du.DefaultConfig()
	duCfg.Timeout = config.GetDuration(workerCfg(du.TaskType).Timeout)
	start(du.TaskType, du.NewHandler(duCfg, svc.inspector, v, log).Handle)

	dlCfg := dl.DefaultConfig()
	dlCfg.Timeout = config.GetDuration(workerCfg(dl.TaskType).Timeout)
	start(dl.TaskType, dl.NewHandler(dlCfg, svc.inspector, v, log).Handle)

	gwcCfg := gwc.DefaultConfig()
	gwcCfg.Timeout = config.GetDuration(workerCfg(gwc.TaskType).Timeout)
	start(gwc.TaskType, gwc.NewHandler(gwcCfg, svc.configs, v, log).Handle)

	swcCfg := swc.DefaultConfig()
	swcCfg.Timeout = config.GetDuration(workerCfg(swc.TaskType).Timeout)
	start(swc.TaskType, swc.NewHandler(swcCfg, svc.configs, v, log).Handle)

	ecCfg := ec.DefaultConfig()
	ecCfg.Timeout = config.GetDuration(workerCfg(ec.TaskType).Timeout)
	start(ec.TaskType, ec.NewHandler(ecCfg, svc.engine, v, log).Handle)

	rtCfg := rt.DefaultConfig()
	rtCfg.Timeout = config.GetDuration(workerCfg(rt.TaskType).Timeout)
	start(rt.TaskType, rt.NewHandler(rtCfg, svc.engine, svc.members, v, log).Handle)

	return started
}
