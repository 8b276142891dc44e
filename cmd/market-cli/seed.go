package main

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nazeru/market-ledger-go/internal/market/apiclient"
	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
)

// catalogFile is the seed format:
//
//	sellers:
//	  - account: alice
//	    items:
//	      - kind: product
//	        title: Lamp
//	        price: "12.50"
//	        inventory: 3
type catalogFile struct {
	Sellers []struct {
		Account string        `yaml:"account"`
		Items   []catalogItem `yaml:"items"`
	} `yaml:"sellers"`
}

type catalogItem struct {
	Kind         string   `yaml:"kind"`
	Digital      bool     `yaml:"digital"`
	Online       bool     `yaml:"online"`
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	Brand        string   `yaml:"brand"`
	Category     string   `yaml:"category"`
	Links        []string `yaml:"links"`
	Location     string   `yaml:"location"`
	DeliveryInfo string   `yaml:"delivery_info"`
	DigitalURL   string   `yaml:"digital_url"`
	Price        string   `yaml:"price"`
	Inventory    uint64   `yaml:"inventory"`
	ZenoPercent  uint64   `yaml:"zeno_percent"`
}

type catalogEntry struct {
	seller domain.AccountID
	input  ledger.ItemInput
}

func parseCatalog(data []byte, scale int32) ([]catalogEntry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	var out []catalogEntry
	for _, s := range f.Sellers {
		if s.Account == "" {
			return nil, fmt.Errorf("parse catalog: seller without account")
		}
		for _, it := range s.Items {
			price, err := apiclient.ParseAmount(it.Price, scale)
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", it.Title, err)
			}
			kind := domain.ItemKind(it.Kind)
			if kind == "" {
				kind = domain.KindProduct
			}
			out = append(out, catalogEntry{
				seller: domain.AccountID(s.Account),
				input: ledger.ItemInput{
					Kind:         kind,
					Digital:      it.Digital,
					Online:       it.Online,
					Title:        it.Title,
					Description:  it.Description,
					Brand:        it.Brand,
					Category:     it.Category,
					Links:        it.Links,
					Location:     it.Location,
					DeliveryInfo: it.DeliveryInfo,
					DigitalURL:   it.DigitalURL,
					Price:        price,
					Inventory:    it.Inventory,
					ZenoPercent:  it.ZenoPercent,
				},
			})
		}
	}
	return out, nil
}
