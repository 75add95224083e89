// Package env loads the command line configuration from the environment,
// optionally seeded by a .env file.
package env

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads the given .env files into the environment. Variables already set
// are not overridden.
//
// With no file, the optional .env of the working directory is read and its
// absence is only logged. A named file that cannot be read is an error.
func Load(files ...string) error {
	err := godotenv.Load(files...)
	switch {
	case err == nil:
		return nil
	case len(files) == 0:
		log.Println("No .env file found, assuming environment variables are set directly.")
		return nil
	}
	return fmt.Errorf("load env file: %w", err)
}

// Lookup returns the value of key, or def when it is unset or empty.
func Lookup(key, def string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return def
}

// Config holds the settings of the scatter command.
type Config struct {
	Pieces      int    // SCATTER_PIECES
	UnitWorkers int    // SCATTER_UNIT_WORKERS
	Workers     int    // SCATTER_WORKERS
	Policy      string // SCATTER_POLICY
	Format      string // SCATTER_FORMAT
	Transform   string // SCATTER_TRANSFORM
	MaxInFlight int    // SCATTER_MAX_IN_FLIGHT

	MinIO MinIO
	Kafka Kafka
}

// MinIO holds the object store settings.
type MinIO struct {
	Endpoint  string // MINIO_ENDPOINT
	AccessKey string // MINIO_ACCESS_KEY
	SecretKey string // MINIO_SECRET_KEY
	UseSSL    bool   // MINIO_USE_SSL
}

// Kafka holds the broker settings of the watch command.
type Kafka struct {
	Brokers      []string // KAFKA_BROKERS, comma separated
	Topic        string   // KAFKA_TOPIC, object created notifications
	GroupID      string   // KAFKA_GROUP_ID
	ResultsTopic string   // KAFKA_RESULTS_TOPIC, empty disables publishing
}

// FromEnv builds a Config from the environment, with defaults for unset values.
func FromEnv() (Config, error) {
	procs := runtime.GOMAXPROCS(0)
	cfg := Config{
		Policy:    Lookup("SCATTER_POLICY", "abort-group"),
		Format:    Lookup("SCATTER_FORMAT", "lines"),
		Transform: Lookup("SCATTER_TRANSFORM", "identity"),
		MinIO: MinIO{
			Endpoint:  Lookup("MINIO_ENDPOINT", ""),
			AccessKey: Lookup("MINIO_ACCESS_KEY", ""),
			SecretKey: Lookup("MINIO_SECRET_KEY", ""),
		},
		Kafka: Kafka{
			Topic:        Lookup("KAFKA_TOPIC", ""),
			GroupID:      Lookup("KAFKA_GROUP_ID", "scatter"),
			ResultsTopic: Lookup("KAFKA_RESULTS_TOPIC", ""),
		},
	}
	if brokers := Lookup("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	var err error
	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"SCATTER_PIECES", procs, &cfg.Pieces},
		{"SCATTER_UNIT_WORKERS", procs, &cfg.UnitWorkers},
		{"SCATTER_WORKERS", procs, &cfg.Workers},
		{"SCATTER_MAX_IN_FLIGHT", 0, &cfg.MaxInFlight},
	}
	for _, i := range ints {
		if *i.dst, err = atoi(i.key, i.def); err != nil {
			return Config{}, err
		}
	}
	if cfg.MinIO.UseSSL, err = strconv.ParseBool(Lookup("MINIO_USE_SSL", "false")); err != nil {
		return Config{}, fmt.Errorf("MINIO_USE_SSL: %w", err)
	}
	return cfg, nil
}

func atoi(key string, def int) (int, error) {
	val := Lookup(key, "")
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
