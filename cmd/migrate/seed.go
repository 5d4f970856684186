package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ignite/pixelrelay/internal/domain"
)

// seedFile is the YAML layout accepted by --seed.
type seedFile struct {
	Channels []struct {
		ID             string   `yaml:"id"`
		Name           string   `yaml:"name"`
		PixelID        string   `yaml:"pixel_id"`
		AccessToken    string   `yaml:"access_token"`
		TestEventCode  string   `yaml:"test_event_code"`
		AllowedDomains []string `yaml:"allowed_domains"`
		Active         *bool    `yaml:"active"`
	} `yaml:"channels"`
}

type channelWriter interface {
	Upsert(ctx context.Context, ch *domain.Channel) error
}

// loadSeed reads channel definitions. Access tokens of the form ${VAR} are
// read from the environment. Channels are active unless stated otherwise.
func loadSeed(path string) ([]domain.Channel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]domain.Channel, 0, len(f.Channels))
	for i, c := range f.Channels {
		if c.ID == "" || c.PixelID == "" {
			return nil, fmt.Errorf("channel %d: id and pixel_id are required", i)
		}
		token := c.AccessToken
		if strings.HasPrefix(token, "${") && strings.HasSuffix(token, "}") {
			token = os.Getenv(token[2 : len(token)-1])
		}
		active := true
		if c.Active != nil {
			active = *c.Active
		}
		out = append(out, domain.Channel{
			ID:             c.ID,
			Name:           c.Name,
			PixelID:        c.PixelID,
			AccessToken:    token,
			TestEventCode:  c.TestEventCode,
			AllowedDomains: c.AllowedDomains,
			Active:         active,
		})
	}
	return out, nil
}

func seedChannels(ctx context.Context, repo channelWriter, channels []domain.Channel) (int, error) {
	for i := range channels {
		if err := repo.Upsert(ctx, &channels[i]); err != nil {
			return i, fmt.Errorf("channel %s: %w", channels[i].ID, err)
		}
	}
	return len(channels), nil
}
