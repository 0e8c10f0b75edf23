package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
)

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		return d.parse(u)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a JSON string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if value.Tag == "!!int" {
		n, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		d.Duration = time.Duration(n)
		return nil
	}
	if err := d.parse(value.Value); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

const (
	defaultPollingTimeout = 30 * time.Second
	defaultInterPollDelay = 100 * time.Millisecond
	defaultNotifyTopic    = "or-ha"
)

func defaultConfig() *Config {
	ops := make(map[string]OperationConfig, len(domain.QueueAction))
	for op := range domain.QueueAction {
		// expected_node_count falls back to the number of request queues
		ops[string(op)] = OperationConfig{
			PollingTimeout: Duration{Duration: defaultPollingTimeout},
			InterPollDelay: Duration{Duration: defaultInterPollDelay},
			Async:          op == domain.OperationChoiceCodesGeneration,
		}
	}
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   10 << 20,
		},
		Transport:   "memory",
		Repository:  "memory",
		Notifier:    "local",
		NotifyTopic: defaultNotifyTopic,
		Codec:       "json",
		Redis: RedisConfig{
			KeyPrefix:    "orch:",
			BlockTimeout: Duration{Duration: time.Second},
		},
		Janitor: JanitorConfig{
			Enabled:   true,
			OrphanTTL: Duration{Duration: 10 * time.Minute},
			Interval:  Duration{Duration: time.Minute},
		},
		Operations: ops,
	}
}

// Load reads ORCH_CONFIG_PATH (or ./config/config.yaml, ./config/config.json), applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv("ORCH_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
				p := filepath.Join(wd, "config", name)
				if _, err := os.Stat(p); err == nil {
					cfgPath = p
					break
				}
			}
		}
	}

	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, err
		}
		if err := decodeFile(cfgPath, b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfgPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile layers the file over the defaults already in cfg.
func decodeFile(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("ORCH_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("ORCH_CORS_ORIGINS")); v != "" {
		cfg.HTTP.AllowOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.HTTP.AllowOrigins = append(cfg.HTTP.AllowOrigins, o)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("ORCH_TRANSPORT")); v != "" {
		cfg.Transport = v
	}
	if v := strings.TrimSpace(os.Getenv("ORCH_REPOSITORY")); v != "" {
		cfg.Repository = v
	}
	if v := strings.TrimSpace(os.Getenv("ORCH_NOTIFIER")); v != "" {
		cfg.Notifier = v
	}
	if v := strings.TrimSpace(os.Getenv("ORCH_CODEC")); v != "" {
		cfg.Codec = v
	}
	if v := strings.TrimSpace(os.Getenv("CC_QUEUE_NAMES")); v != "" {
		queues, err := ParseQueueNames(v)
		if err != nil {
			return err
		}
		for op, q := range queues {
			oc := cfg.Operations[string(op)]
			oc.RequestQueues = q.Request
			oc.ResponseQueues = q.Response
			cfg.Operations[string(op)] = oc
		}
	}
	if v := strings.TrimSpace(os.Getenv("CC_TOPIC_NAMES")); v != "" {
		topic, err := ParseTopicNames(v)
		if err != nil {
			return err
		}
		cfg.NotifyTopic = topic
	}
	return nil
}

func (cfg *Config) normalize() error {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MaxRequestBytes <= 0 {
		cfg.HTTP.MaxRequestBytes = 10 << 20
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = Duration{Duration: 15 * time.Second}
	}
	if strings.TrimSpace(cfg.NotifyTopic) == "" {
		cfg.NotifyTopic = defaultNotifyTopic
	}

	if _, err := codec.ByName[domain.Envelope](cfg.Codec); err != nil {
		return fmt.Errorf("invalid codec: %w", err)
	}

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	switch cfg.Transport {
	case "", "memory":
		cfg.Transport = "memory"
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return errors.New("transport=redis requires redis.addr or REDIS_ADDR")
		}
	default:
		return fmt.Errorf("invalid transport=%q (memory, redis)", cfg.Transport)
	}

	cfg.Repository = strings.ToLower(strings.TrimSpace(cfg.Repository))
	switch cfg.Repository {
	case "", "memory":
		cfg.Repository = "memory"
	case "durable":
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			return errors.New("repository=durable requires database.dsn or DATABASE_DSN")
		}
	default:
		return fmt.Errorf("invalid repository=%q (memory, durable)", cfg.Repository)
	}

	cfg.Notifier = strings.ToLower(strings.TrimSpace(cfg.Notifier))
	switch cfg.Notifier {
	case "", "local":
		cfg.Notifier = "local"
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return errors.New("notifier=redis requires redis.addr or REDIS_ADDR")
		}
	case "postgres":
		if !strings.HasPrefix(cfg.Database.DSN, "postgres") && !strings.Contains(cfg.Database.DSN, "dbname=") {
			return errors.New("notifier=postgres requires a postgres database.dsn")
		}
	default:
		return fmt.Errorf("invalid notifier=%q (local, redis, postgres)", cfg.Notifier)
	}

	if len(cfg.Operations) == 0 {
		return errors.New("config must define at least one operation")
	}
	for name, oc := range cfg.Operations {
		op := domain.OperationType(name)
		if !op.Valid() {
			return fmt.Errorf("unknown operation %q", name)
		}
		if oc.ExpectedNodeCount <= 0 {
			oc.ExpectedNodeCount = len(oc.RequestQueues)
		}
		if oc.PollingTimeout.Duration <= 0 {
			oc.PollingTimeout = Duration{Duration: defaultPollingTimeout}
		}
		if oc.InterPollDelay.Duration <= 0 {
			oc.InterPollDelay = Duration{Duration: defaultInterPollDelay}
		}
		if oc.InterPollDelay.Duration > oc.PollingTimeout.Duration {
			return fmt.Errorf("operation %q: inter_poll_delay exceeds polling_timeout", name)
		}
		cfg.Operations[name] = oc
	}

	if cfg.Janitor.Enabled {
		if cfg.Janitor.OrphanTTL.Duration <= 0 || cfg.Janitor.Interval.Duration <= 0 {
			return errors.New("janitor requires positive orphan_ttl and interval")
		}
		// a sweep must never reach a record that is still being polled
		if longest := cfg.LongestPollingTimeout(); cfg.Janitor.OrphanTTL.Duration <= longest {
			return fmt.Errorf("janitor orphan_ttl %s must exceed the longest polling_timeout %s",
				cfg.Janitor.OrphanTTL.Duration, longest)
		}
	}
	return nil
}

// LongestPollingTimeout is the largest polling_timeout across operations.
func (cfg *Config) LongestPollingTimeout() time.Duration {
	var longest time.Duration
	for _, oc := range cfg.Operations {
		longest = max(longest, oc.PollingTimeout.Duration)
	}
	return longest
}

// Enabled lists the operations that have queues wired, in stable order.
func (cfg *Config) Enabled() []domain.OperationType {
	var out []domain.OperationType
	for name, oc := range cfg.Operations {
		if len(oc.RequestQueues) > 0 && len(oc.ResponseQueues) > 0 {
			out = append(out, domain.OperationType(name))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type QueuePair struct {
	Request  []string
	Response []string
}

// ignoredActions are valid control-component actions this orchestrator does not drive.
var ignoredActions = map[string]bool{"md-mixdec": true}

// ParseQueueNames reads the control-component queue map
//
//	{"<node>": {"<action>": {"req": "<queue>", "res": "<queue>"}}}
//
// and groups queues per operation, each list sorted by queue name.
func ParseQueueNames(raw string) (map[domain.OperationType]QueuePair, error) {
	out := map[domain.OperationType]QueuePair{}
	err := walkQueueNames(raw, func(_ string, op domain.OperationType, req, res string) {
		pair := out[op]
		pair.Request = append(pair.Request, req)
		pair.Response = append(pair.Response, res)
		out[op] = pair
	})
	if err != nil {
		return nil, err
	}
	for op, pair := range out {
		sort.Strings(pair.Request)
		sort.Strings(pair.Response)
		out[op] = pair
	}
	return out, nil
}

// NodeRoute is the request/response queue pair one node serves for one operation.
type NodeRoute struct {
	Request  string
	Response string
}

// NodeQueues extracts the routes of a single node from the same map.
func NodeQueues(raw, node string) (map[domain.OperationType]NodeRoute, error) {
	out := map[domain.OperationType]NodeRoute{}
	err := walkQueueNames(raw, func(n string, op domain.OperationType, req, res string) {
		if n == node {
			out[op] = NodeRoute{Request: req, Response: res}
		}
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("CC_QUEUE_NAMES has no queues for node %s", node)
	}
	return out, nil
}

func walkQueueNames(raw string, fn func(node string, op domain.OperationType, req, res string)) error {
	var nodes map[string]map[string]struct {
		Req string `json:"req"`
		Res string `json:"res"`
	}
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return fmt.Errorf("error parsing CC_QUEUE_NAMES: %w", err)
	}
	byAction := make(map[string]domain.OperationType, len(domain.QueueAction))
	for op, action := range domain.QueueAction {
		byAction[action] = op
	}
	for node, actions := range nodes {
		for action, q := range actions {
			op, ok := byAction[action]
			if !ok {
				if ignoredActions[action] {
					continue
				}
				return fmt.Errorf("unknown action %s found when parsing CC_QUEUE_NAMES", action)
			}
			if strings.TrimSpace(q.Req) == "" || strings.TrimSpace(q.Res) == "" {
				return fmt.Errorf("CC_QUEUE_NAMES: node %s action %s needs both req and res", node, action)
			}
			fn(node, op, q.Req, q.Res)
		}
	}
	return nil
}

// ParseTopicNames returns the high-availability topic from {"or-ha": "<topic>"}.
func ParseTopicNames(raw string) (string, error) {
	var topics map[string]string
	if err := json.Unmarshal([]byte(raw), &topics); err != nil {
		return "", fmt.Errorf("error parsing CC_TOPIC_NAMES: %w", err)
	}
	t := strings.TrimSpace(topics["or-ha"])
	if t == "" {
		return "", errors.New("CC_TOPIC_NAMES has no or-ha topic")
	}
	return t, nil
}
