package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/voicevox-worker/internal/core"
	"github.com/book-expert/voicevox-worker/internal/httpapi"
	"github.com/book-expert/voicevox-worker/internal/job"
	"github.com/book-expert/voicevox-worker/internal/objectstore"
	"github.com/book-expert/voicevox-worker/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	testText        = "テストです"
)

var (
	testOutput  string
	testSpeaker int

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Process jobs from a NATS subject",
		RunE:  runWorker,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Process jobs over HTTP at /runsync",
		RunE:  runServe,
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Synthesize a short test phrase and report the result",
		RunE:  runTest,
	}
)

func init() {
	testCmd.Flags().StringVarP(&testOutput, "out", "o", "", "write the decoded WAV to this path")
	testCmd.Flags().IntVar(&testSpeaker, "speaker", core.DefaultSpeakerID, "style id to synthesize with")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runWorker(_ *cobra.Command, _ []string) error {
	a, err := bootstrap("voicevox-worker.log")
	if err != nil {
		return err
	}
	defer a.close()

	natsConnection, err := nats.Connect(a.cfg.NATS.URL, nats.Name("voicevox-worker"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	var store core.ObjectStore

	if bucket := a.cfg.NATS.AudioObjectStoreBucket; bucket != "" {
		jetstreamContext, jsErr := natsConnection.JetStream()
		if jsErr != nil {
			return fmt.Errorf("failed to get JetStream context: %w", jsErr)
		}

		audioStore, storeErr := objectstore.New(jetstreamContext, bucket)
		if storeErr != nil {
			return storeErr
		}

		a.log.Info("Archiving audio to object store bucket %s", audioStore.Bucket())

		store = audioStore
	}

	ctx, stop := signalContext()
	defer stop()

	a.warm()

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		a.cfg.NATS.JobSubject,
		a.cfg.NATS.QueueGroup,
		a.cfg.Worker.Concurrency,
		a.handler(store),
		a.log,
	)

	a.log.System("Voicevox worker successfully initialized. Listening for jobs on subject: %s", a.cfg.NATS.JobSubject)

	return natsWorker.Run(ctx)
}

func runServe(_ *cobra.Command, _ []string) error {
	a, err := bootstrap("voicevox-http.log")
	if err != nil {
		return err
	}
	defer a.close()

	gin.SetMode(gin.ReleaseMode)

	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(a.handler(nil), a.log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signalContext()
	defer stop()

	a.warm()

	errChan := make(chan error, 1)

	go func() {
		a.log.System("Voicevox HTTP server listening on %s", a.cfg.HTTP.Addr)
		errChan <- server.ListenAndServe()
	}()

	select {
	case err = <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	return nil
}

func runTest(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap("voicevox-test.log")
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	start := time.Now()

	resp := a.handler(nil).Handle(ctx, job.Job{
		ID:    "local-test",
		Input: map[string]any{"text": testText, "speaker_id": testSpeaker},
	})
	if !resp.Succeeded() {
		return fmt.Errorf("test synthesis failed: %s", resp.Error)
	}

	wavBytes, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return fmt.Errorf("failed to decode test audio: %w", err)
	}

	handle := a.initializer.Current()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "engine:   %s (%s)\n", handle.Version(), handle.Strategy())
	fmt.Fprintf(out, "text:     %s\n", testText)
	fmt.Fprintf(out, "audio:    %d bytes at %d Hz\n", len(wavBytes), resp.SamplingRate)
	fmt.Fprintf(out, "elapsed:  %s\n", time.Since(start).Round(time.Millisecond))

	if testOutput != "" {
		err = os.WriteFile(testOutput, wavBytes, 0o600)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", testOutput, err)
		}

		fmt.Fprintf(out, "written:  %s\n", testOutput)
	}

	return nil
}
