package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Queue     QueueConfig     `yaml:"queue"`
	Logger    LoggerConfig    `yaml:"logger"`
	Learner   LearnerConfig   `yaml:"learner"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Actor     ActorConfig     `yaml:"actor"`
	Scenario  ScenarioConfig  `yaml:"scenario"`
	PPO       PPOConfig       `yaml:"ppo"`
	DataPipe  DataPipeConfig  `yaml:"datapipe"`
	Provision ProvisionConfig `yaml:"provision"`
}

// ServerConfig inspection API server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for the inspection API (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration (rendezvous + run registry)
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration (durable run registry, optional)
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// QueueConfig job queue configuration (job-mode launches)
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"` // queue processing concurrency
	MaxRetry    int `yaml:"max_retry"`   // maximum retry count
	JobTimeout  int `yaml:"job_timeout"` // job timeout (seconds)
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// LearnerConfig distributed learner configuration
type LearnerConfig struct {
	// Autostart launches a training run for the configured group as soon
	// as the learner process is up. Without it the process only serves
	// the inspection API and queued launches.
	Autostart          bool   `yaml:"autostart"`
	Group              string `yaml:"group"`               // rendezvous group name, shared with actors
	ExpectedActors     int    `yaml:"expected_actors"`     // actor peers required before training starts
	MaxRetries         int    `yaml:"max_retries"`         // peer discovery retry budget
	RetryDelay         int    `yaml:"retry_delay"`         // delay between discovery retries (seconds)
	CollectTimeout     int    `yaml:"collect_timeout"`     // per-episode experience collection timeout (seconds)
	CheckpointInterval int    `yaml:"checkpoint_interval"` // episodes between model dumps
	ModelsDir          string `yaml:"models_dir"`          // model snapshot directory
}

// SchedulerConfig episode scheduler configuration
type SchedulerConfig struct {
	MaxEpisode    int               `yaml:"max_episode"`
	WarmupEpisode int               `yaml:"warmup_episode"`
	Patience      int               `yaml:"patience"` // early-stop window in episodes, 0 disables
	Exploration   ExplorationConfig `yaml:"exploration"`
}

// ExplorationConfig two-phase linear decay parameters
type ExplorationConfig struct {
	Start        float64 `yaml:"start"`
	Mid          float64 `yaml:"mid"`
	End          float64 `yaml:"end"`
	SplitEpisode int     `yaml:"split_episode"` // phase boundary, 0 means max_episode/2
}

// ActorConfig actor process configuration
type ActorConfig struct {
	Group             string `yaml:"group"`              // rendezvous group name, must match the learner
	HeartbeatInterval int    `yaml:"heartbeat_interval"` // liveness heartbeat interval (seconds)
}

// ScenarioConfig simulation scenario and per-agent model shape.
// Learner and actor must agree on this section: both sides build the
// same policy networks from it, and only parameter vectors travel over
// the wire.
type ScenarioConfig struct {
	Name     string       `yaml:"name"`     // registered scenario name
	Topology string       `yaml:"topology"` // dataset topology, e.g. azure.2019.10k
	Agents   []string     `yaml:"agents"`   // agent IDs, one policy each
	ObsDim   int          `yaml:"obs_dim"`  // observation feature count
	Hidden   int          `yaml:"hidden"`   // embedding width
	Action   ActionConfig `yaml:"action"`   // action space shape
	Seed     int64        `yaml:"seed"`     // network init seed, offset per agent
}

// ActionConfig action space shape
type ActionConfig struct {
	Kind    string `yaml:"kind"`    // single, paired
	Actions int    `yaml:"actions"` // single: action count
	Sources int    `yaml:"sources"` // paired: source count
	Targets int    `yaml:"targets"` // paired: target count
}

// PPOConfig policy optimizer configuration
type PPOConfig struct {
	Gamma       float64 `yaml:"gamma"`        // reward discount
	ClipEpsilon float64 `yaml:"clip_epsilon"` // surrogate clip range
	EntropyCoef float64 `yaml:"entropy_coef"` // entropy bonus coefficient
	Epochs      int     `yaml:"epochs"`       // inner gradient epochs per update cycle
	PolicyLR    float64 `yaml:"policy_lr"`
	ValueLR     float64 `yaml:"value_lr"`
}

// DataPipeConfig dataset pipeline configuration
type DataPipeConfig struct {
	WorkDir       string           `yaml:"work_dir"`       // local download/build directory
	SourceMeta    string           `yaml:"source_meta"`    // topology -> remote_url metadata file
	PollInterval  int              `yaml:"poll_interval"`  // download-manager poll interval (seconds)
	PollDeadline  int              `yaml:"poll_deadline"`  // overall download wait budget (seconds)
	ReadingsLimit int              `yaml:"readings_limit"` // max partitioned cpu-readings files to fetch
	Downloader    DownloaderConfig `yaml:"downloader"`
}

// DownloaderConfig external download manager endpoint
type DownloaderConfig struct {
	RPCURL string `yaml:"rpc_url"`
	Token  string `yaml:"token"`
}

// ProvisionConfig actor fleet provisioning configuration
type ProvisionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Namespace  string `yaml:"namespace"`
	ActorImage string `yaml:"actor_image"`
	Kubeconfig string `yaml:"kubeconfig"` // path to kubeconfig, empty means in-cluster
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	if err := validateAndApplyDefaults(&cfg); err != nil {
		return err
	}

	GlobalConfig = &cfg
	return nil
}

// DefaultLearnerConfig returns the learner defaults applied on top of the file
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		Group:              "maro",
		ExpectedActors:     1,
		MaxRetries:         15,
		RetryDelay:         5,
		CollectTimeout:     120,
		CheckpointInterval: 10,
		ModelsDir:          "models",
	}
}

// DefaultSchedulerConfig returns the scheduler defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxEpisode:    100,
		WarmupEpisode: 0,
		Patience:      0,
		Exploration: ExplorationConfig{
			Start: 0.4,
			Mid:   0.32,
			End:   0.0,
		},
	}
}

// DefaultScenarioConfig returns the scenario defaults
func DefaultScenarioConfig() ScenarioConfig {
	return ScenarioConfig{
		Name:     "vm_scheduling",
		Topology: "azure.2019.10k",
		Hidden:   64,
		Action:   ActionConfig{Kind: "single"},
	}
}

// DefaultPPOConfig returns the policy optimizer defaults
func DefaultPPOConfig() PPOConfig {
	return PPOConfig{
		Gamma:       0.99,
		ClipEpsilon: 0.2,
		EntropyCoef: 0.01,
		Epochs:      4,
		PolicyLR:    3e-4,
		ValueLR:     3e-4,
	}
}

// DefaultDataPipeConfig returns the dataset pipeline defaults
func DefaultDataPipeConfig() DataPipeConfig {
	return DataPipeConfig{
		WorkDir:       "data",
		SourceMeta:    "config/source_urls.yml",
		PollInterval:  5,
		PollDeadline:  3600,
		ReadingsLimit: 4,
		Downloader: DownloaderConfig{
			RPCURL: "http://localhost:6800/jsonrpc",
		},
	}
}

// validateAndApplyDefaults fills invalid or missing values with defaults.
// Invalid here means zero or negative for values that must be positive;
// explicit valid values are always preserved.
func validateAndApplyDefaults(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 4
	}
	if cfg.Queue.MaxRetry < 0 {
		cfg.Queue.MaxRetry = 0
	}
	if cfg.Queue.JobTimeout <= 0 {
		cfg.Queue.JobTimeout = 3600
	}

	ld := DefaultLearnerConfig()
	if cfg.Learner.Group == "" {
		cfg.Learner.Group = ld.Group
	}
	if cfg.Learner.ExpectedActors <= 0 {
		cfg.Learner.ExpectedActors = ld.ExpectedActors
	}
	if cfg.Learner.MaxRetries <= 0 {
		cfg.Learner.MaxRetries = ld.MaxRetries
	}
	if cfg.Learner.RetryDelay <= 0 {
		cfg.Learner.RetryDelay = ld.RetryDelay
	}
	if cfg.Learner.CollectTimeout <= 0 {
		cfg.Learner.CollectTimeout = ld.CollectTimeout
	}
	if cfg.Learner.CheckpointInterval <= 0 {
		cfg.Learner.CheckpointInterval = ld.CheckpointInterval
	}
	if cfg.Learner.ModelsDir == "" {
		cfg.Learner.ModelsDir = ld.ModelsDir
	}

	sd := DefaultSchedulerConfig()
	if cfg.Scheduler.MaxEpisode <= 0 {
		cfg.Scheduler.MaxEpisode = sd.MaxEpisode
	}
	if cfg.Scheduler.WarmupEpisode < 0 {
		cfg.Scheduler.WarmupEpisode = 0
	}
	if cfg.Scheduler.Patience < 0 {
		cfg.Scheduler.Patience = 0
	}
	if cfg.Scheduler.Exploration == (ExplorationConfig{}) {
		cfg.Scheduler.Exploration = sd.Exploration
	}
	if cfg.Scheduler.Exploration.SplitEpisode <= 0 {
		cfg.Scheduler.Exploration.SplitEpisode = cfg.Scheduler.MaxEpisode / 2
	}

	if cfg.Actor.Group == "" {
		cfg.Actor.Group = cfg.Learner.Group
	}
	if cfg.Actor.HeartbeatInterval <= 0 {
		cfg.Actor.HeartbeatInterval = 10
	}

	scd := DefaultScenarioConfig()
	if cfg.Scenario.Name == "" {
		cfg.Scenario.Name = scd.Name
	}
	if cfg.Scenario.Topology == "" {
		cfg.Scenario.Topology = scd.Topology
	}
	if cfg.Scenario.Hidden <= 0 {
		cfg.Scenario.Hidden = scd.Hidden
	}
	if cfg.Scenario.Action.Kind == "" {
		cfg.Scenario.Action.Kind = scd.Action.Kind
	}

	pd := DefaultPPOConfig()
	if cfg.PPO.Gamma <= 0 || cfg.PPO.Gamma > 1 {
		cfg.PPO.Gamma = pd.Gamma
	}
	if cfg.PPO.ClipEpsilon <= 0 {
		cfg.PPO.ClipEpsilon = pd.ClipEpsilon
	}
	if cfg.PPO.EntropyCoef < 0 {
		cfg.PPO.EntropyCoef = pd.EntropyCoef
	}
	if cfg.PPO.Epochs <= 0 {
		cfg.PPO.Epochs = pd.Epochs
	}
	if cfg.PPO.PolicyLR <= 0 {
		cfg.PPO.PolicyLR = pd.PolicyLR
	}
	if cfg.PPO.ValueLR <= 0 {
		cfg.PPO.ValueLR = pd.ValueLR
	}

	dd := DefaultDataPipeConfig()
	if cfg.DataPipe.WorkDir == "" {
		cfg.DataPipe.WorkDir = dd.WorkDir
	}
	if cfg.DataPipe.SourceMeta == "" {
		cfg.DataPipe.SourceMeta = dd.SourceMeta
	}
	if cfg.DataPipe.PollInterval <= 0 {
		cfg.DataPipe.PollInterval = dd.PollInterval
	}
	if cfg.DataPipe.PollDeadline <= 0 {
		cfg.DataPipe.PollDeadline = dd.PollDeadline
	}
	if cfg.DataPipe.ReadingsLimit <= 0 {
		cfg.DataPipe.ReadingsLimit = dd.ReadingsLimit
	}
	if cfg.DataPipe.Downloader.RPCURL == "" {
		cfg.DataPipe.Downloader.RPCURL = dd.Downloader.RPCURL
	}

	if cfg.Provision.Enabled {
		if cfg.Provision.Namespace == "" {
			cfg.Provision.Namespace = "maro"
		}
		if cfg.Provision.ActorImage == "" {
			return fmt.Errorf("provision.actor_image is required when provisioning is enabled")
		}
	}

	if cfg.MySQL.Enabled {
		if cfg.MySQL.Host == "" || cfg.MySQL.Database == "" {
			return fmt.Errorf("mysql.host and mysql.database are required when mysql is enabled")
		}
		if cfg.MySQL.Port <= 0 {
			cfg.MySQL.Port = 3306
		}
	}

	return nil
}
