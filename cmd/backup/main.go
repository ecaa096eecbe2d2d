package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/IBM/sarama"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/option"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
	"github.com/metal-stack/kafka-backup-streamer/internal/kafkasource"
	"github.com/metal-stack/kafka-backup-streamer/internal/metrics"
	"github.com/metal-stack/kafka-backup-streamer/internal/objectstore"
	"github.com/metal-stack/kafka-backup-streamer/internal/pipeline"
	"github.com/metal-stack/kafka-backup-streamer/pkg/constants"
)

const (
	moduleName = "kafka-backup-streamer"

	logLevelFlg = "log-level"

	timePolicyFlg   = "time-policy"
	compressionFlg  = "compression"
	objectPrefixFlg = "object-prefix"
	metricsAddrFlg  = "metrics-addr"

	kafkaBrokersFlg   = "kafka-brokers"
	kafkaTopicFlg     = "kafka-topic"
	kafkaGroupFlg     = "kafka-group"
	kafkaPartitionFlg = "kafka-partition"

	storageProviderFlg = "storage-provider"
	resumeFromKeyFlg   = "resume-from-key"

	s3BucketFlg    = "s3-bucket"
	s3EndpointFlg  = "s3-endpoint"
	s3RegionFlg    = "s3-region"
	s3AccessKeyFlg = "s3-access-key"
	s3SecretKeyFlg = "s3-secret-key"

	gcsBucketFlg  = "gcs-bucket"
	gcsProjectFlg = "gcs-project"
	localPathFlg  = "local-path"
)

var (
	logger *zap.SugaredLogger
	stop   context.Context
)

var rootCmd = &cobra.Command{
	Use:          moduleName,
	Short:        "backs up a Kafka topic into time-sliced JSON array objects in S3 or GCS",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogging()
		initConfig()
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "starts backing up the configured topic continuously",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		stop, _ = signal.NotifyContext(context.Background(), os.Interrupt)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(stop)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)

	rootCmd.PersistentFlags().StringP(logLevelFlg, "", "info", "sets the application log level")

	startCmd.Flags().StringP(timePolicyFlg, "", "chrono:hour", "bucketing policy: period:<duration> or chrono:<second|minute|hour|day>")
	startCmd.Flags().StringP(compressionFlg, "", "gzip", "compression: none or gzip[:level]")
	startCmd.Flags().StringP(objectPrefixFlg, "", constants.DefaultObjectPrefix, "prefix prepended to every object key")
	startCmd.Flags().StringP(metricsAddrFlg, "", constants.DefaultMetricsAddr, "bind address of the metrics/health server")

	startCmd.Flags().StringSlice(kafkaBrokersFlg, []string{"localhost:9092"}, "kafka broker addresses")
	startCmd.Flags().StringP(kafkaTopicFlg, "", "", "kafka topic to back up")
	startCmd.Flags().StringP(kafkaGroupFlg, "", moduleName, "kafka consumer group id")
	startCmd.Flags().IntP(kafkaPartitionFlg, "", -1, "kafka partition, for metrics/logging labels only; partition assignment is handled by the consumer group")

	startCmd.Flags().StringP(storageProviderFlg, "", "local", "storage provider: s3|gcs|local")
	startCmd.Flags().StringP(resumeFromKeyFlg, "", "", "object key a prior crashed run last opened, so it can be found and terminated on this run's first bucket")

	startCmd.Flags().StringP(s3BucketFlg, "", "", "s3 bucket name")
	startCmd.Flags().StringP(s3EndpointFlg, "", "", "s3 endpoint url (optional, for s3-compatible providers)")
	startCmd.Flags().StringP(s3RegionFlg, "", "us-east-1", "s3 region")
	startCmd.Flags().StringP(s3AccessKeyFlg, "", "", "s3 access key")
	startCmd.Flags().StringP(s3SecretKeyFlg, "", "", "s3 secret key")

	startCmd.Flags().StringP(gcsBucketFlg, "", "", "gcs bucket name")
	startCmd.Flags().StringP(gcsProjectFlg, "", "", "gcp project id")

	startCmd.Flags().StringP(localPathFlg, "", "./backup-data", "base directory for the local storage provider")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Printf("unable to construct root command: %v", err)
		os.Exit(1)
	}
	if err := viper.BindPFlags(startCmd.Flags()); err != nil {
		fmt.Printf("unable to construct start command: %v", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BACKUP_STREAMER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func initLogging() {
	level := zap.InfoLevel
	if viper.IsSet(logLevelFlg) {
		parsed, err := zapcore.ParseLevel(viper.GetString(logLevelFlg))
		if err != nil {
			log.Fatalf("can't initialize zap logger: %v", err)
		}
		level = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		log.Fatalf("can't build zap logger: %v", err)
	}
	logger = l.Sugar()
}

func parseTimePolicy(raw string) (bucket.Policy, error) {
	kind, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, fmt.Errorf("%s must have the form kind:value, got %q", timePolicyFlg, raw)
	}

	switch kind {
	case "period":
		d, err := time.ParseDuration(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid period duration %q: %w", rest, err)
		}
		return bucket.PeriodFromFirst{Period: d}, nil
	case "chrono":
		switch rest {
		case "second":
			return bucket.ChronoUnitSlice{Unit: bucket.UnitSecond}, nil
		case "minute":
			return bucket.ChronoUnitSlice{Unit: bucket.UnitMinute}, nil
		case "hour":
			return bucket.ChronoUnitSlice{Unit: bucket.UnitHour}, nil
		case "day":
			return bucket.ChronoUnitSlice{Unit: bucket.UnitDay}, nil
		default:
			return nil, fmt.Errorf("unknown chrono unit %q", rest)
		}
	default:
		return nil, fmt.Errorf("unknown time policy kind %q", kind)
	}
}

func parseCompression(raw string) bucket.CompressionKind {
	kind, _, _ := strings.Cut(raw, ":")
	if kind == "gzip" {
		return bucket.CompressionGzip
	}
	return bucket.CompressionNone
}

func buildAdapter(ctx context.Context) (objectstore.Adapter, error) {
	switch provider := viper.GetString(storageProviderFlg); provider {
	case "s3":
		bucketName := viper.GetString(s3BucketFlg)
		if bucketName == "" {
			return nil, fmt.Errorf("%s must be set for the s3 provider", s3BucketFlg)
		}

		var optFns []func(*awsconfig.LoadOptions) error
		if ak, sk := viper.GetString(s3AccessKeyFlg), viper.GetString(s3SecretKeyFlg); ak != "" && sk != "" {
			optFns = append(optFns, awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(ak, sk, "")))
		}
		if region := viper.GetString(s3RegionFlg); region != "" {
			optFns = append(optFns, awsconfig.WithRegion(region))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint := viper.GetString(s3EndpointFlg); endpoint != "" {
				o.BaseEndpoint = &endpoint
				o.UsePathStyle = true
			}
		})

		return objectstore.NewS3(client, bucketName), nil

	case "gcs":
		bucketName := viper.GetString(gcsBucketFlg)
		if bucketName == "" {
			return nil, fmt.Errorf("%s must be set for the gcs provider", gcsBucketFlg)
		}

		var clientOpts []option.ClientOption
		if project := viper.GetString(gcsProjectFlg); project != "" {
			clientOpts = append(clientOpts, option.WithQuotaProject(project))
		}

		client, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("construct gcs client: %w", err)
		}
		return objectstore.NewGCS(client, bucketName), nil

	case "local":
		return objectstore.NewLocal(afero.NewOsFs(), viper.GetString(localPathFlg)), nil

	default:
		return nil, fmt.Errorf("unknown storage provider %q", provider)
	}
}

func runStart(ctx context.Context) error {
	policy, err := parseTimePolicy(viper.GetString(timePolicyFlg))
	if err != nil {
		return err
	}
	compression := parseCompression(viper.GetString(compressionFlg))

	adapter, err := buildAdapter(ctx)
	if err != nil {
		return err
	}
	adapter = objectstore.WithPrefix(adapter, viper.GetString(objectPrefixFlg))

	topic := viper.GetString(kafkaTopicFlg)
	if topic == "" {
		return fmt.Errorf("%s must be set", kafkaTopicFlg)
	}

	logger.Infow("starting backup", "topic", topic, "partition-hint", viper.GetInt(kafkaPartitionFlg), "policy", viper.GetString(timePolicyFlg))

	kcfg := sarama.NewConfig()
	kcfg.Version = sarama.DefaultVersion
	kcfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	src, err := kafkasource.New(viper.GetStringSlice(kafkaBrokersFlg), viper.GetString(kafkaGroupFlg), topic, kcfg)
	if err != nil {
		return fmt.Errorf("construct kafka source: %w", err)
	}
	defer src.Close()

	m := metrics.New()

	metricsCtx, cancelMetrics := context.WithCancel(ctx)
	defer cancelMetrics()
	go func() {
		if err := m.Serve(metricsCtx, viper.GetString(metricsAddrFlg), logger); err != nil {
			logger.Errorw("metrics server stopped with error", "error", err)
		}
	}()

	results, errc := pipeline.Run(ctx, pipeline.Options{
		Source:             src,
		Policy:             policy,
		Compression:        compression,
		Adapter:            adapter,
		InitialPreviousKey: viper.GetString(resumeFromKeyFlg),
		OnRecord:           m.CountRecord,
		OnBucketStart: func(key string, resumed bool) {
			if resumed {
				m.CountResume()
				logger.Infow("resuming bucket upload", "key", key)
			} else {
				logger.Infow("opening bucket upload", "key", key)
			}
		},
	})

	for results != nil || errc != nil {
		select {
		case result, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			m.CountBucketClosed(result.Bytes)
			logger.Infow("bucket completed", "key", result.Key, "bytes", result.Bytes, "parts", result.PartCount)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err != nil {
				m.CountError("pipeline")
				return err
			}
		}
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
