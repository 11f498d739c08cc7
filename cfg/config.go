package cfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/firepear/qsplit/v2"
	"github.com/go-logr/logr"
	"github.com/imdario/mergo"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/robfig/cron/v3"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/locker"
	"github.com/vshn/timevault/retention"
)

const (
	// EnvPrefix is the prefix of environment variables overriding the configuration file.
	EnvPrefix = "TIMEVAULT_"

	// DefaultTag is the tag of backup paths that do not configure one.
	DefaultTag = "default"

	ResticPasswordCommandEnvName = "RESTIC_PASSWORD_COMMAND"

	keyRetention = "retention"
)

// BackupPath is a path that is backed up, together with the tag of its backup set.
type BackupPath struct {
	Path     string   `koanf:"path"`
	Tag      string   `koanf:"tag"`
	Excludes []string `koanf:"excludes"`
}

// Configuration holds a strongly-typed tree of the configuration
type Configuration struct {
	Engine          string `koanf:"engine"`
	ResticBin       string `koanf:"restic-bin"`
	Repository      string `koanf:"repository"`
	Password        string `koanf:"password"`
	PasswordFile    string `koanf:"password-file"`
	PasswordCommand string `koanf:"password-command"`
	CacheDir        string `koanf:"cache-dir"`
	Hostname        string `koanf:"hostname"`

	// Allows to pass options to restic, see https://restic.readthedocs.io/en/stable/manual_rest.html?highlight=--option#usage-help
	// Format: `key=value "key2=value with spaces"`
	ResticOptions string `koanf:"restic-options"`
	// Env is passed to the engine, e.g. the credentials of the storage backend.
	Env map[string]string `koanf:"env"`

	BackupPaths     []BackupPath `koanf:"backup-paths"`
	ExcludePatterns []string     `koanf:"exclude-patterns"`
	PolicyFile      string       `koanf:"policy-file"`
	// Policy is either read from the retention section or from PolicyFile.
	Policy retention.Policy `koanf:"-"`

	Schedule      string        `koanf:"schedule"`
	BackupTimeout time.Duration `koanf:"backup-timeout"`
	ListTimeout   time.Duration `koanf:"list-timeout"`

	PromURL            string `koanf:"prom-url"`
	WebhookURL         string `koanf:"webhook-url"`
	MetricsBindAddress string `koanf:"metrics-bindaddress"`

	LockDir string        `koanf:"lock-dir"`
	LockTTL time.Duration `koanf:"lock-ttl"`

	ArchiveS3Endpoint  string `koanf:"archive-s3-endpoint"`
	ArchiveS3AccessKey string `koanf:"archive-s3-access-key"`
	ArchiveS3SecretKey string `koanf:"archive-s3-secret-key"`

	MountPath string `koanf:"mount-path"`
}

// NewDefaultConfig retrieves the config with sane defaults
func NewDefaultConfig() *Configuration {
	hostname, _ := os.Hostname()
	return &Configuration{
		Engine:             "restic",
		ResticBin:          "restic",
		Hostname:           hostname,
		Schedule:           "@hourly",
		ListTimeout:        5 * time.Minute,
		MetricsBindAddress: "localhost:9765",
		LockDir:            locker.DefaultDir(),
		LockTTL:            locker.DefaultTTL,
		MountPath:          filepath.Join(os.TempDir(), "timevault"),
		Policy:             retention.DefaultPolicy(),
	}
}

// DefaultConfigFile returns config.yaml in the timevault directory of the user configuration directory.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "timevault", "config.yaml")
}

// Load reads the configuration file at path and the TIMEVAULT_* environment variables
// and fills every unset field with its default.
// A missing file is an error unless optional is set.
func Load(path string, optional bool, log logr.Logger) (*Configuration, error) {
	k := koanf.New(".")

	if path != "" {
		err := k.Load(file.Provider(path), yaml.Parser())
		switch {
		case err != nil && optional && errors.Is(err, os.ErrNotExist):
			log.V(1).Info("no configuration file found", "path", path)
		case err != nil:
			return nil, fmt.Errorf("cannot load configuration file %s: %w", path, err)
		default:
			log.V(1).Info("loaded configuration file", "path", path)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.Replace(strings.ToLower(s), "_", "-", -1)
		return s
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("could not load environment variables: %w", err)
	}

	c := &Configuration{}
	if err := k.UnmarshalWithConf("", c, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("cannot parse configuration: %w", err)
	}
	if err := mergo.Merge(c, NewDefaultConfig()); err != nil {
		return nil, fmt.Errorf("could not merge defaults with settings: %w", err)
	}

	policy, err := loadPolicy(k, c.PolicyFile)
	if err != nil {
		return nil, err
	}
	if len(c.ExcludePatterns) > 0 {
		policy.ExcludePatterns = append(append([]string(nil), c.ExcludePatterns...), policy.ExcludePatterns...)
	}
	c.Policy = policy
	return c, nil
}

func loadPolicy(k *koanf.Koanf, policyFile string) (retention.Policy, error) {
	inline := k.Exists(keyRetention)
	switch {
	case inline && policyFile != "":
		return retention.Policy{}, fmt.Errorf("the %s section and policy-file '%s' are mutually exclusive", keyRetention, policyFile)
	case policyFile != "":
		return retention.Load(policyFile)
	case inline:
		return retention.FromKoanf(k.Cut(keyRetention))
	}
	return retention.DefaultPolicy(), nil
}

// Validate ensures a consistent configuration and returns an error should that not be the case
func (c *Configuration) Validate() error {
	if c.Repository == "" {
		return fmt.Errorf("the repository must be defined")
	}
	if err := c.validatePassword(); err != nil {
		return err
	}
	if err := c.validateBackupPaths(); err != nil {
		return err
	}
	if err := c.validateDurations(); err != nil {
		return err
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("the schedule '%s' is not valid: %w", c.Schedule, err)
		}
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return c.Policy.Validate()
}

func (c *Configuration) validatePassword() error {
	set := 0
	for _, v := range []string{c.Password, c.PasswordFile, c.PasswordCommand} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return fmt.Errorf("one of password, password-file or password-command must be defined")
	case set > 1:
		return fmt.Errorf("password, password-file and password-command are mutually exclusive")
	}
	return nil
}

func (c *Configuration) validateBackupPaths() error {
	for i, p := range c.BackupPaths {
		if p.Path == "" {
			return fmt.Errorf("backup path #%d has no path", i+1)
		}
		if strings.Contains(p.Tag, ",") {
			return fmt.Errorf("the tag '%s' of backup path '%s' must not contain a comma", p.Tag, p.Path)
		}
	}
	return nil
}

func (c *Configuration) validateDurations() error {
	durations := map[string]time.Duration{
		"backup-timeout": c.BackupTimeout,
		"list-timeout":   c.ListTimeout,
		"lock-ttl":       c.LockTTL,
	}
	for arg, val := range durations {
		if val < 0 {
			return fmt.Errorf("the duration '%s' of the argument %s must not be negative", val, arg)
		}
	}
	return nil
}

func (c *Configuration) validateArchive() error {
	if c.ArchiveS3Endpoint == "" {
		return nil
	}
	switch {
	case c.ArchiveS3AccessKey == "":
		return fmt.Errorf("if the archive s3 endpoint is set, then the archive s3 access key must be defined")
	case c.ArchiveS3SecretKey == "":
		return fmt.Errorf("if the archive s3 endpoint is set, then the archive s3 secret key must be defined")
	}
	return nil
}

// BackupSet is a group of paths that is backed up and retained together.
type BackupSet struct {
	Tag      string
	Paths    []string
	Excludes []string
}

// BackupSets groups the backup paths by tag, sorted by tag.
func (c *Configuration) BackupSets() []BackupSet {
	byTag := map[string]*BackupSet{}
	for _, p := range c.BackupPaths {
		tag := p.Tag
		if tag == "" {
			tag = DefaultTag
		}
		set, ok := byTag[tag]
		if !ok {
			set = &BackupSet{Tag: tag}
			byTag[tag] = set
		}
		set.Paths = append(set.Paths, p.Path)
		set.Excludes = append(set.Excludes, p.Excludes...)
	}

	sets := make([]BackupSet, 0, len(byTag))
	for _, set := range byTag {
		sets = append(sets, *set)
	}
	sort.Slice(sets, func(i, j int) bool {
		return sets[i].Tag < sets[j].Tag
	})
	return sets
}

// Policy returns base extended with the excludes of the set.
func (s BackupSet) Policy(base retention.Policy) retention.Policy {
	p := base
	p.ExcludePatterns = append(append([]string(nil), base.ExcludePatterns...), s.Excludes...)
	if len(p.ExcludePatterns) == 0 {
		p.ExcludePatterns = nil
	}
	return p
}

// EngineOptions returns the options to create the configured engine with.
func (c *Configuration) EngineOptions(log logr.Logger) engine.Options {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	if c.PasswordCommand != "" {
		env[ResticPasswordCommandEnvName] = c.PasswordCommand
	}

	return engine.Options{
		Binary:       c.ResticBin,
		Repository:   c.Repository,
		Password:     c.Password,
		PasswordFile: c.PasswordFile,
		CacheDir:     c.CacheDir,
		Host:         c.Hostname,
		ExtraOptions: qsplit.ToStrings([]byte(c.ResticOptions)),
		Env:          env,
		Timeout:      c.BackupTimeout,
		ListTimeout:  c.ListTimeout,
		Logger:       log,
	}
}
