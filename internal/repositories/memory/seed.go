package memory

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/productshop/api/internal/domain"
)

// Seed is the YAML document loaded into a fresh store for local runs.
type Seed struct {
	Products []SeedProduct `yaml:"products"`
	Members  []SeedMember  `yaml:"members"`
}

type SeedProduct struct {
	ID       string       `yaml:"id"`
	Title    string       `yaml:"title"`
	Category string       `yaml:"category"`
	Price    int64        `yaml:"price"`
	Stock    int64        `yaml:"stock"`
	Options  []SeedOption `yaml:"options"`
}

type SeedOption struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price int64  `yaml:"price"`
	Stock int64  `yaml:"stock"`
}

type SeedMember struct {
	ID            string `yaml:"id"`
	Email         string `yaml:"email"`
	RecipientName string `yaml:"recipientName"`
	ZipCode       string `yaml:"zipCode"`
	Address       string `yaml:"address"`
	Phone         string `yaml:"phone"`
}

// LoadSeedFile reads path and applies it to the store.
func (s *Store) LoadSeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("memory: open seed: %w", err)
	}
	defer f.Close()
	return s.LoadSeed(f)
}

// LoadSeed decodes a YAML seed document from r and applies it.
func (s *Store) LoadSeed(r io.Reader) error {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return fmt.Errorf("memory: decode seed: %w", err)
	}
	return s.ApplySeed(seed)
}

// ApplySeed validates and stores every product, option and member in seed.
func (s *Store) ApplySeed(seed Seed) error {
	now := time.Now().UTC()
	for i, p := range seed.Products {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("memory: seed product %d: id is required", i)
		}
		if p.Price < 0 || p.Stock < 0 {
			return fmt.Errorf("memory: seed product %s: price and stock must be non-negative", p.ID)
		}
		options := make([]domain.ProductOption, 0, len(p.Options))
		for _, o := range p.Options {
			if strings.TrimSpace(o.ID) == "" || o.Stock < 0 {
				return fmt.Errorf("memory: seed product %s: option id is required and stock must be non-negative", p.ID)
			}
			options = append(options, domain.ProductOption{
				ID: o.ID, Name: o.Name, Price: o.Price, Stock: o.Stock, UpdatedAt: now,
			})
		}
		s.SeedProduct(domain.Product{
			ID: p.ID, Title: p.Title, Category: p.Category, Price: p.Price, Stock: p.Stock, UpdatedAt: now,
		}, options...)
	}
	for i, m := range seed.Members {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("memory: seed member %d: id is required", i)
		}
		s.SeedMember(domain.Member{
			ID:    m.ID,
			Email: m.Email,
			Shipping: domain.ShippingProfile{
				RecipientName: m.RecipientName,
				ZipCode:       m.ZipCode,
				Address:       m.Address,
				Phone:         m.Phone,
			},
		})
	}
	return nil
}
