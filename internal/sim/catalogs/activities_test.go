package catalogs_test

import (
	"errors"
	"testing"

	"townlife.ai/internal/sim/catalogs"
)

func mustActivity(t *testing.T, c *catalogs.Catalog, def catalogs.ActivityDefinition) {
	t.Helper()
	if err := c.RegisterActivity(def); err != nil {
		t.Fatalf("register %s: %v", def.Name, err)
	}
}

func mustAlias(t *testing.T, c *catalogs.Catalog, phrase, canonical string) {
	t.Helper()
	if err := c.RegisterAlias(phrase, canonical); err != nil {
		t.Fatalf("alias %q: %v", phrase, err)
	}
}

func smithCatalog(t *testing.T) *catalogs.Catalog {
	t.Helper()
	c := catalogs.NewCatalog(2)
	mustActivity(t, c, catalogs.ActivityDefinition{
		Name: "smithing", Kind: catalogs.KindCrafting,
		Tags: []string{"forge", "crafting"}, Animation: "smith",
		Duration: catalogs.DurationLong, Priority: 7, Interruptible: true,
	})
	mustActivity(t, c, catalogs.ActivityDefinition{
		Name: "fishing", Kind: catalogs.KindCrafting,
		Tags: []string{"fishing", "water"}, Animation: "fish",
		Duration: catalogs.DurationLong, Priority: 6, Interruptible: true,
	})
	mustAlias(t, c, "craft fishing equipment and ship fittings", "smithing")
	return c
}

func TestCatalog_Resolve_Canonical(t *testing.T) {
	c := smithCatalog(t)

	def, err := c.Resolve("smithing")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Name != "smithing" {
		t.Fatalf("got %s, want smithing", def.Name)
	}

	// Case and whitespace are normalized before lookup.
	def, err = c.Resolve("  SMITHING  ")
	if err != nil {
		t.Fatalf("resolve normalized: %v", err)
	}
	if def.Name != "smithing" {
		t.Fatalf("got %s, want smithing", def.Name)
	}
}

func TestCatalog_Resolve_Alias(t *testing.T) {
	c := smithCatalog(t)

	// The exact alias wins before fuzzy matching ever runs, even though the
	// phrase shares more tokens with the fishing activity's name.
	def, err := c.Resolve("craft fishing equipment and ship fittings")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Name != "smithing" {
		t.Fatalf("got %s, want smithing", def.Name)
	}
}

func TestCatalog_Resolve_Fuzzy(t *testing.T) {
	c := smithCatalog(t)

	// Shares three tokens with the smithing alias; no exact match exists.
	def, err := c.Resolve("time to craft some fishing equipment")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Name != "smithing" {
		t.Fatalf("got %s, want smithing", def.Name)
	}
}

func TestCatalog_Resolve_FuzzyBelowThreshold(t *testing.T) {
	c := smithCatalog(t)

	// Only one shared token; the overlap threshold is 2.
	if _, err := c.Resolve("equipment polish"); !errors.Is(err, catalogs.ErrActivityUnresolved) {
		t.Fatalf("err = %v, want ErrActivityUnresolved", err)
	}
}

func TestCatalog_Resolve_FuzzySpanTieBreak(t *testing.T) {
	c := catalogs.NewCatalog(2)
	mustActivity(t, c, catalogs.ActivityDefinition{
		Name: "trade", Kind: catalogs.KindSocialInteraction,
		Tags: []string{"market"}, Animation: "chat",
		Duration: catalogs.DurationShort, Priority: 4, Interruptible: true,
	})
	mustActivity(t, c, catalogs.ActivityDefinition{
		Name: "laundry", Kind: catalogs.KindStationary,
		Tags: []string{"water"}, Animation: "scrub",
		Duration: catalogs.DurationShort, Priority: 2, Interruptible: true,
	})
	mustAlias(t, c, "market day", "trade")
	mustAlias(t, c, "wash market stalls", "laundry")

	// Both aliases match two query tokens; the laundry alias matches the
	// longer span ("wash"+"market" beats "market"+"day").
	def, err := c.Resolve("market day wash")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Name != "laundry" {
		t.Fatalf("got %s, want laundry", def.Name)
	}
}

func TestCatalog_Resolve_FuzzyOrderTieBreak(t *testing.T) {
	c := catalogs.NewCatalog(2)
	mustActivity(t, c, catalogs.ActivityDefinition{
		Name: "feed_hens", Kind: catalogs.KindStationary,
		Tags: []string{"farm"}, Animation: "scatter",
		Duration: catalogs.DurationShort, Priority: 3, Interruptible: true,
	})
	mustActivity(t, c, catalogs.ActivityDefinition{
		Name: "count_hens", Kind: catalogs.KindStationary,
		Tags: []string{"farm"}, Animation: "point",
		Duration: catalogs.DurationShort, Priority: 3, Interruptible: true,
	})
	mustAlias(t, c, "feed the hens", "feed_hens")
	mustAlias(t, c, "tally the hens", "count_hens")

	// Identical score and span ("the"+"hens"); first registration wins.
	def, err := c.Resolve("the hens")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Name != "feed_hens" {
		t.Fatalf("got %s, want feed_hens", def.Name)
	}
}

func TestCatalog_Resolve_Malformed(t *testing.T) {
	c := smithCatalog(t)
	for _, q := range []string{"", "   ", "!!! ???"} {
		if _, err := c.Resolve(q); !errors.Is(err, catalogs.ErrActivityUnresolved) {
			t.Fatalf("resolve %q: err = %v, want ErrActivityUnresolved", q, err)
		}
	}
}

func TestCatalog_RegisterAlias_UnknownCanonical(t *testing.T) {
	c := smithCatalog(t)
	err := c.RegisterAlias("mend the nets", "net_mending")
	if !errors.Is(err, catalogs.ErrUnknownCanonicalActivity) {
		t.Fatalf("err = %v, want ErrUnknownCanonicalActivity", err)
	}
}

func TestCatalog_RegisterActivity_Duplicate(t *testing.T) {
	c := smithCatalog(t)
	err := c.RegisterActivity(catalogs.ActivityDefinition{
		Name: "Smithing", Kind: catalogs.KindCrafting,
		Tags: []string{"forge"}, Animation: "smith",
		Duration: catalogs.DurationLong, Priority: 7, Interruptible: true,
	})
	if !errors.Is(err, catalogs.ErrDuplicateActivity) {
		t.Fatalf("err = %v, want ErrDuplicateActivity", err)
	}
}
