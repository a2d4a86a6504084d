// internal/config/config.go
//
// This package handles configuration and the .looptrack directory structure.
// The directory the operator runs looptrack from gets a .looptrack/ folder
// holding the project config, logs and the race checkpoint.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/looptrack/internal/contentstore"
	"github.com/kingrea/looptrack/internal/race"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".looptrack"

	defaultBranch   = "main"
	defaultFeedHost = "127.0.0.1"
	defaultFeedPort = 8765
)

const defaultProjectConfigYAML = `# looptrack project configuration
version: 1

# Content repository that receives published runs.
store:
  owner: ""
  repo: ""
  branch: main

# Repository layout. Paths are relative to the repository root.
paths:
  runners: content/runners
  runner_photos: assets/images/runners
  runner_photo_ref_base: /images/runners
  results: content/results
  staging: content/staging/runs
  race_photos: assets/images/races
  photo_ref_base: /images/races

# Loop lengths in metres. The approach is added once a runner has any loop.
course:
  small: 800
  medium: 1000
  long: 1200
  approach: 500

# Read-only HTTP feed of the live session.
feed:
  enabled: false
  host: 127.0.0.1
  port: 8765
`

// StoreConfig names the content repository.
type StoreConfig struct {
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
}

// PathsConfig describes where each kind of document lives in the repository.
// The *RefBase values are public path prefixes written into documents
// (a profile's photo, a run's mainPhoto) rather than repository paths.
type PathsConfig struct {
	Runners            string `yaml:"runners"`
	RunnerPhotos       string `yaml:"runner_photos"`
	RunnerPhotoRefBase string `yaml:"runner_photo_ref_base"`
	Results            string `yaml:"results"`
	Staging            string `yaml:"staging"`
	RacePhotos         string `yaml:"race_photos"`
	PhotoRefBase       string `yaml:"photo_ref_base"`
}

// CourseConfig holds loop lengths in metres.
type CourseConfig struct {
	Small    int `yaml:"small"`
	Medium   int `yaml:"medium"`
	Long     int `yaml:"long"`
	Approach int `yaml:"approach"`
}

// FeedConfig controls the live feed server.
type FeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ProjectConfig models .looptrack/config.yaml.
type ProjectConfig struct {
	Version int          `yaml:"version"`
	Store   StoreConfig  `yaml:"store"`
	Paths   PathsConfig  `yaml:"paths"`
	Course  CourseConfig `yaml:"course"`
	Feed    FeedConfig   `yaml:"feed"`
}

// Config holds the runtime configuration for looptrack.
type Config struct {
	// ProjectDir is the directory where the operator ran `looptrack` from
	ProjectDir string

	// StateRoot is ProjectDir/.looptrack
	StateRoot string

	// Token authorises writes to the content repository. It comes from the
	// environment only and is never written to disk.
	Token string

	// Offline swaps the GitHub client for an in-memory store.
	Offline bool

	Project ProjectConfig
}

// InitDir creates the .looptrack directory structure in the given project directory.
//
// Structure created:
// .looptrack/
// ├── config.yaml
// ├── logs/    <- debug log and race journal
// └── state/   <- race checkpoint
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// Load reads .env, .looptrack/config.yaml and environment overrides.
func Load(projectDir string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(projectDir, ".env")); err != nil {
		return nil, err
	}
	cfg := &Config{
		ProjectDir: projectDir,
		StateRoot:  filepath.Join(projectDir, Dir),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if !cfg.Offline && (cfg.Project.Store.Owner == "" || cfg.Project.Store.Repo == "") {
		return nil, fmt.Errorf("config: store.owner and store.repo are required (or set LOOPTRACK_OFFLINE=1)")
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateRoot, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.StateRoot, "state")
}

// CheckpointPath is where the in-progress race is saved.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.StateDir(), "session.json")
}

// LogbookPath is the operator-facing race journal.
func (c *Config) LogbookPath() string {
	return filepath.Join(c.LogsDir(), "races.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateRoot, "config.yaml")
}

// Course converts the configured loop lengths.
func (c *Config) Course() race.Course {
	return race.Course{
		SmallMetres:    c.Project.Course.Small,
		MediumMetres:   c.Project.Course.Medium,
		LongMetres:     c.Project.Course.Long,
		ApproachMetres: c.Project.Course.Approach,
	}
}

// StoreSettings returns the client settings for the content repository.
func (c *Config) StoreSettings() contentstore.Settings {
	return contentstore.Settings{
		Owner:   c.Project.Store.Owner,
		Repo:    c.Project.Store.Repo,
		Branch:  c.Project.Store.Branch,
		Token:   c.Token,
		BaseURL: getEnv("LOOPTRACK_GITHUB_API", ""),
	}
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func (c *Config) applyEnv() {
	store := &c.Project.Store
	store.Owner = getEnv("LOOPTRACK_OWNER", store.Owner)
	store.Repo = getEnv("LOOPTRACK_REPO", store.Repo)
	store.Branch = getEnv("LOOPTRACK_BRANCH", store.Branch)
	c.Token = getEnv("LOOPTRACK_GITHUB_TOKEN", getEnv("GITHUB_TOKEN", ""))
	c.Offline = getBoolEnv("LOOPTRACK_OFFLINE", false)
	c.Project.Feed.Enabled = getBoolEnv("LOOPTRACK_FEED", c.Project.Feed.Enabled)
	c.Project.Feed.Port = getIntEnv("LOOPTRACK_FEED_PORT", c.Project.Feed.Port)
	c.Project.normalize()
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{Version: 1}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Store.Branch == "" {
		pc.Store.Branch = defaultBranch
	}
	p := &pc.Paths
	setDefault(&p.Runners, "content/runners")
	setDefault(&p.RunnerPhotos, "assets/images/runners")
	setDefault(&p.RunnerPhotoRefBase, "/images/runners")
	setDefault(&p.Results, "content/results")
	setDefault(&p.Staging, "content/staging/runs")
	setDefault(&p.RacePhotos, "assets/images/races")
	setDefault(&p.PhotoRefBase, "/images/races")
	def := race.DefaultCourse
	if pc.Course.Small == 0 {
		pc.Course.Small = def.SmallMetres
	}
	if pc.Course.Medium == 0 {
		pc.Course.Medium = def.MediumMetres
	}
	if pc.Course.Long == 0 {
		pc.Course.Long = def.LongMetres
	}
	if pc.Course.Approach == 0 {
		pc.Course.Approach = def.ApproachMetres
	}
	if pc.Feed.Host == "" {
		pc.Feed.Host = defaultFeedHost
	}
	if pc.Feed.Port == 0 {
		pc.Feed.Port = defaultFeedPort
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Store.Owner = strings.TrimSpace(pc.Store.Owner)
	pc.Store.Repo = strings.TrimSpace(pc.Store.Repo)
	pc.Store.Branch = strings.TrimSpace(pc.Store.Branch)
	if pc.Store.Branch == "" {
		pc.Store.Branch = defaultBranch
	}
	p := &pc.Paths
	for _, field := range []*string{&p.Runners, &p.RunnerPhotos, &p.Results, &p.Staging, &p.RacePhotos} {
		*field = strings.Trim(strings.TrimSpace(*field), "/")
	}
	p.PhotoRefBase = "/" + strings.Trim(strings.TrimSpace(p.PhotoRefBase), "/")
	p.RunnerPhotoRefBase = "/" + strings.Trim(strings.TrimSpace(p.RunnerPhotoRefBase), "/")
	pc.Feed.Host = strings.TrimSpace(pc.Feed.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	p := pc.Paths
	for name, value := range map[string]string{
		"runners":       p.Runners,
		"runner_photos": p.RunnerPhotos,
		"results":       p.Results,
		"staging":       p.Staging,
		"race_photos":   p.RacePhotos,
	} {
		if value == "" {
			return fmt.Errorf("paths.%s is required", name)
		}
	}
	course := race.Course{
		SmallMetres:    pc.Course.Small,
		MediumMetres:   pc.Course.Medium,
		LongMetres:     pc.Course.Long,
		ApproachMetres: pc.Course.Approach,
	}
	if err := course.Validate(); err != nil {
		return fmt.Errorf("course: %w", err)
	}
	if pc.Feed.Port < 1 || pc.Feed.Port > 65535 {
		return fmt.Errorf("feed.port must be between 1 and 65535")
	}
	return nil
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
