//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
	"github.com/couchcryptid/nightlight-qc/internal/raster/geotiff"
	"github.com/couchcryptid/nightlight-qc/internal/synth"
)

const kafkaImage = "confluentinc/confluent-local:7.5.0"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node Kafka container for the test and returns its
// broker address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID("viirs-qc-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// writeScenes writes one 2×2 seven-band scene per name into dir. Every scene
// has two usable pixels at night: radiance 10 and 20.
func writeScenes(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, name := range names {
		s, err := synth.Scene(name, domain.SevenBandProduct(), 2, 2, []synth.Pixel{
			{Radiance: 10},
			{Radiance: 20, Confidence: 1, Quality: 1},
			{Radiance: 30, Confidence: 2, Quality: 2, Day: 1},
			{Radiance: 40, Confidence: 3, Quality: 255, Day: 1},
		})
		require.NoError(t, err)
		paths[i] = filepath.Join(dir, name+".tif")
		require.NoError(t, geotiff.WriteFile(paths[i], s.WithType(raster.Float32), geotiff.EncodeOptions{Compression: geotiff.Deflate}))
	}
	return paths
}
