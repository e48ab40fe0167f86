package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/scheduler"
)

var (
	workerMode bool
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Run retry related commands",
}

var retryTransactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "Retry confirmation of transactions whose backoff has elapsed",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(transactionRetryJob)
	},
}

var retryWebhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Replay webhook events that failed processing",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(webhookReplayJob)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile stale processing transactions against their provider",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(reconcileJob)
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(reconcileCmd)
	retryCmd.AddCommand(retryTransactionsCmd)
	retryCmd.AddCommand(retryWebhooksCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func transactionRetryJob(app *application) scheduler.Job {
	return scheduler.Job{
		Name:     "transaction_retry",
		Interval: app.cfg.Jobs.TransactionRetryInterval,
		Run:      app.transactions.RunTransactionRetryBatch,
	}
}

func webhookReplayJob(app *application) scheduler.Job {
	return scheduler.Job{
		Name:     "webhook_replay",
		Interval: app.cfg.Jobs.WebhookReplayInterval,
		Run:      app.webhooks.RunFailedEventReplayBatch,
	}
}

func reconcileJob(app *application) scheduler.Job {
	return scheduler.Job{
		Name:     "reconcile",
		Interval: app.cfg.Jobs.ReconcileInterval,
		Run:      app.transactions.RunReconcileBatch,
	}
}

func runCommand(build func(app *application) scheduler.Job) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	job := build(app)
	if workerMode {
		runWorker(job)
		return
	}

	_ = scheduler.RunOnce(context.Background(), logrus.StandardLogger(), job)
}

func runWorker(job scheduler.Job) {
	worker := scheduler.New(job)
	if err := worker.Start(context.Background()); err != nil {
		logrus.WithError(err).WithField("job", job.Name).Fatal("invalid worker interval")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.WithField("job", job.Name).Info("Worker shutdown requested")
	worker.Stop()
}
