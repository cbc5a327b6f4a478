package db

import (
	"fmt"

	"github.com/gocql/gocql"

	"github.com/acme/predictive-dialer/internal/config"
)

// Scylla wraps a gocql session.
type Scylla struct {
	session *gocql.Session
}

// NewScylla creates a new Scylla session.
func NewScylla(cfg config.ScyllaConfig) (*Scylla, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Port = cfg.Port
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.Timeout = cfg.Timeout
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}

	if !cfg.DisableInitSchema {
		if err := initSchema(session); err != nil {
			session.Close()
			return nil, err
		}
	}

	return &Scylla{session: session}, nil
}

func initSchema(session *gocql.Session) error {
	const ddl = `CREATE TABLE IF NOT EXISTS attempts_by_campaign (
		campaign_id text,
		bucket timestamp,
		attempt_id text,
		target_id text,
		agent_id text,
		phone_number text,
		call_control_id text,
		attempt_num int,
		outcome text,
		started_at timestamp,
		resolved_at timestamp,
		PRIMARY KEY ((campaign_id, bucket), resolved_at, attempt_id)
	) WITH CLUSTERING ORDER BY (resolved_at DESC, attempt_id ASC)`

	if err := session.Query(ddl).Exec(); err != nil {
		return fmt.Errorf("scylla: init schema: %w", err)
	}
	return nil
}

// Session exposes the gocql session.
func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// Close shuts down the session.
func (s *Scylla) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

func parseConsistency(level string) gocql.Consistency {
	switch level {
	case "one":
		return gocql.One
	case "local_quorum":
		return gocql.LocalQuorum
	case "local_one":
		return gocql.LocalOne
	case "each_quorum":
		return gocql.EachQuorum
	case "quorum":
		fallthrough
	default:
		return gocql.Quorum
	}
}
