package styles

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Style is one entry in the catalog: a display name plus the prompt text
// the rendering network receives for it.
type Style struct {
	Name     string `yaml:"name"`
	Prompt   string `yaml:"prompt"`
	Negative string `yaml:"negative,omitempty"`
}

type catalogFile struct {
	Styles []Style `yaml:"styles"`
}

// Catalog holds the loaded styles and resolves display labels for finished
// slots. Safe for concurrent use; Reload swaps the style set atomically.
type Catalog struct {
	mu     sync.RWMutex
	path   string
	styles []Style
	logger zerolog.Logger

	titler cases.Caser
}

// Load reads and validates a YAML style catalog.
func Load(path string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		path:   path,
		logger: logger,
		titler: cases.Title(language.English),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Empty returns a catalog with no styles. Every label resolves to the
// generic fallback until a Reload succeeds.
func Empty(logger zerolog.Logger) *Catalog {
	return &Catalog{
		logger: logger,
		titler: cases.Title(language.English),
	}
}

// Reload re-reads the catalog file.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("styles: read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("styles: parse catalog: %w", err)
	}
	for i, s := range file.Styles {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("styles: entry %d has no name", i)
		}
		if strings.TrimSpace(s.Prompt) == "" {
			return fmt.Errorf("styles: entry %q has no prompt", s.Name)
		}
	}
	c.mu.Lock()
	c.styles = file.Styles
	c.mu.Unlock()
	return nil
}

// Watch reloads the catalog whenever the file changes. It returns a stop
// function. Reload failures keep the previous catalog and are logged.
func (c *Catalog) Watch() (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("styles: watcher: %w", err)
	}
	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("styles: watch %s: %w", c.path, err)
	}
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.Reload(); err != nil {
					c.logger.Warn().Err(err).Msg("styles: reload failed, keeping previous catalog")
					continue
				}
				c.logger.Info().Str("path", c.path).Msg("styles: catalog reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn().Err(err).Msg("styles: watcher error")
			}
		}
	}()
	return func() { watcher.Close() }, nil
}

// All returns a copy of the loaded styles.
func (c *Catalog) All() []Style {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Style, len(c.styles))
	copy(out, c.styles)
	return out
}

// Find returns the style with the given name.
func (c *Catalog) Find(name string) (Style, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.styles {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Style{}, false
}

// ResolveLabel determines the display label for a finished image. The
// fallback chain: exact prompt match, style-prompt substring match, the
// currently selected style, fuzzy word overlap, then a generic label.
func (c *Catalog) ResolveLabel(promptUsed, selectedStyle string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prompt := strings.ToLower(strings.TrimSpace(promptUsed))

	for _, s := range c.styles {
		if prompt != "" && strings.EqualFold(strings.TrimSpace(s.Prompt), strings.TrimSpace(promptUsed)) {
			return c.title(s.Name)
		}
	}
	for _, s := range c.styles {
		stylePrompt := strings.ToLower(strings.TrimSpace(s.Prompt))
		if prompt != "" && stylePrompt != "" && strings.Contains(prompt, stylePrompt) {
			return c.title(s.Name)
		}
	}
	if selectedStyle != "" {
		if s, ok := c.findLocked(selectedStyle); ok {
			return c.title(s.Name)
		}
		return c.title(selectedStyle)
	}
	if best := c.fuzzyLocked(prompt); best != "" {
		return c.title(best)
	}
	return "Custom"
}

func (c *Catalog) findLocked(name string) (Style, bool) {
	for _, s := range c.styles {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Style{}, false
}

// fuzzyLocked picks the style whose prompt shares the most words with the
// prompt actually used. Ties go to the earlier catalog entry.
func (c *Catalog) fuzzyLocked(prompt string) string {
	if prompt == "" {
		return ""
	}
	words := strings.Fields(prompt)
	bestName, bestScore := "", 0
	for _, s := range c.styles {
		stylePrompt := strings.ToLower(s.Prompt)
		score := 0
		for _, w := range words {
			if len(w) >= 4 && strings.Contains(stylePrompt, w) {
				score++
			}
		}
		if score > bestScore {
			bestName, bestScore = s.Name, score
		}
	}
	return bestName
}

func (c *Catalog) title(name string) string {
	return c.titler.String(strings.ReplaceAll(name, "_", " "))
}
