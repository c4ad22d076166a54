package main

import (
	"context"
	"errors"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"habit-progress/config"
	"habit-progress/storage"
)

func main() {
	if config.Bool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	tables := storage.Tables{
		Facts:    os.Getenv("FACTS_TABLE"),
		Progress: os.Getenv("PROGRESS_TABLE"),
		Groups:   os.Getenv("GROUPS_TABLE"),
		Habits:   os.Getenv("HABITS_TABLE"),
	}
	queueName := os.Getenv("PROGRESS_QUEUE")

	ctx := context.Background()

	if err := createTables(ctx, connStr, tables.Names()); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := createQueues(ctx, connStr, []string{queueName}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	if path := os.Getenv("SEED_FILE"); path != "" {
		store, err := storage.New(connStr, tables, queueName)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read seed: %v", err)
		}
		groups, habits, err := storage.Seed(ctx, store, data)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.WithFields(log.Fields{"groups": groups, "habits": habits}).Info("seed applied")
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}
