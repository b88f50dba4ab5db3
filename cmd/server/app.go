package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/document-rag/config"
	"github.com/feichai0017/document-rag/internal/agent"
	"github.com/feichai0017/document-rag/internal/index"
	"github.com/feichai0017/document-rag/internal/service/document"
	"github.com/feichai0017/document-rag/internal/utils/validator"
	"github.com/feichai0017/document-rag/internal/vectorstore"
	"github.com/feichai0017/document-rag/pkg/logger"
	"github.com/feichai0017/document-rag/pkg/queue"
	"github.com/feichai0017/document-rag/pkg/storage"
	"github.com/feichai0017/document-rag/pkg/storage/local"
	"github.com/feichai0017/document-rag/pkg/storage/minio"
	"github.com/feichai0017/document-rag/pkg/storage/s3"
)

// app holds everything the server and the maintenance commands share.
type app struct {
	conf       *config.AppConfig
	log        logger.Logger
	components *agent.Components
	storage    storage.Storage
	queue      queue.Queue
	service    *document.Service
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(&conf.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	a := &app{conf: conf, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.storage, err = storage.NewStorage(ctx, storage.Config{
		Type:  storage.StorageType(conf.Storage.Type),
		Local: local.Config{Dir: conf.Storage.Local.Dir},
		S3:    s3.Config(conf.Storage.S3),
		Minio: minio.Config(conf.Storage.Minio),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	idx, err := index.Open(conf.Index.Path, index.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	a.components, err = agent.NewComponents(ctx, conf, log)
	if err != nil {
		return nil, err
	}

	a.queue, err = newQueue(conf, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	store := vectorstore.NewAdapter(a.components.Backend, a.components.Embedder, log)
	a.service = document.NewService(
		idx,
		store,
		a.components.Splitter,
		a.components.Generator,
		a.storage,
		a.queue,
		log,
		&document.ServiceConfig{
			MaxDocuments: conf.RAG.MaxDocuments,
			StaleTimeout: conf.RAG.StaleTimeout,
			TopK:         conf.RAG.TopK,
		},
	)
	ok = true
	return a, nil
}

func newQueue(conf *config.AppConfig, log logger.Logger) (queue.Queue, error) {
	switch conf.Queue.Type {
	case "asynq":
		q, err := queue.NewAsynqQueue(&queue.QueueConfig{
			RedisAddr:      conf.Queue.Redis.Addr,
			RedisPassword:  conf.Queue.Redis.Password,
			RedisDB:        conf.Queue.Redis.DB,
			ProcessTimeout: conf.Queue.TaskTimeout,
			Concurrency:    conf.Queue.Concurrency,
		}, log)
		if err != nil {
			// keep a typed nil out of the interface
			return nil, err
		}
		return q, nil
	default:
		return queue.NewLocalQueue(conf.Queue.Concurrency, conf.Queue.TaskTimeout, log), nil
	}
}

// validatorConfig maps the server limits onto the upload validator.
func validatorConfig(conf *config.AppConfig) *validator.ValidatorConfig {
	return &validator.ValidatorConfig{
		MaxFileSize:  conf.Server.MaxUploadBytes,
		MaxPageCount: conf.Server.MaxPages,
	}
}

// Close stops the queue and releases the components. It is safe after a
// partial newApp.
func (a *app) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Stop())
	}
	if a.components != nil {
		errs = append(errs, a.components.Close())
	}
	if a.log != nil {
		a.log.Sync()
	}
	return errors.Join(errs...)
}
