package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Catalogs bundles the two read-only lookup services every agent shares.
// Contents never change after Load; no synchronization is needed.
type Catalogs struct {
	Locations  *Registry
	Activities *Catalog

	LocationsDigest  string
	ActivitiesDigest string
	AliasesDigest    string
}

type aliasDef struct {
	Phrase   string `json:"phrase"`
	Activity string `json:"activity"`
}

func Load(configDir string, fuzzyMinOverlap int) (*Catalogs, error) {
	c := &Catalogs{
		Locations:  NewRegistry(),
		Activities: NewCatalog(fuzzyMinOverlap),
	}

	if err := c.loadLocations(filepath.Join(configDir, "locations.json")); err != nil {
		return nil, err
	}
	if err := c.loadActivities(filepath.Join(configDir, "activities.json")); err != nil {
		return nil, err
	}
	if err := c.loadAliases(filepath.Join(configDir, "aliases.json")); err != nil {
		return nil, err
	}
	return c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *Catalogs) loadLocations(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c.LocationsDigest = sha256Hex(raw)

	var recs []LocationRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return fmt.Errorf("locations.json: %w", err)
	}
	for _, r := range recs {
		if len(r.Tags) == 0 {
			return fmt.Errorf("locations.json: %s has no tags", r.ID)
		}
		if err := c.Locations.Register(r); err != nil {
			return fmt.Errorf("locations.json: %w", err)
		}
	}
	return nil
}

func (c *Catalogs) loadActivities(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c.ActivitiesDigest = sha256Hex(raw)

	var defs []ActivityDefinition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("activities.json: %w", err)
	}
	for _, d := range defs {
		switch d.Kind {
		case KindStationary, KindRoutineMovement, KindGotoLocation, KindSocialInteraction, KindCrafting:
		default:
			return fmt.Errorf("activities.json: %s has unknown kind %q", d.Name, d.Kind)
		}
		switch d.Duration {
		case DurationShort, DurationMedium, DurationLong, DurationOpen:
		default:
			return fmt.Errorf("activities.json: %s has unknown duration %q", d.Name, d.Duration)
		}
		if d.Kind.RequiresLocation() && len(d.Tags) == 0 {
			return fmt.Errorf("activities.json: %s requires location tags", d.Name)
		}
		if err := c.Activities.RegisterActivity(d); err != nil {
			return fmt.Errorf("activities.json: %w", err)
		}
	}
	return nil
}

func (c *Catalogs) loadAliases(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		// A town without aliases is legal; canonical names still resolve.
		if os.IsNotExist(err) {
			c.AliasesDigest = sha256Hex(nil)
			return nil
		}
		return err
	}
	c.AliasesDigest = sha256Hex(raw)

	var defs []aliasDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("aliases.json: %w", err)
	}
	for _, a := range defs {
		if err := c.Activities.RegisterAlias(a.Phrase, a.Activity); err != nil {
			return fmt.Errorf("aliases.json: %w", err)
		}
	}
	return nil
}
