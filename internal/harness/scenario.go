package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/remote"
)

// Scenario is one scripted run of a session against the in-process
// remote service.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario shows.
	Description string `yaml:"description"`

	// Server seeds the remote service before the session starts.
	Server ServerSetup `yaml:"server,omitempty"`

	// Local seeds raw local store values by key.
	Local map[string]string `yaml:"local,omitempty"`

	// Steps run in order after the initial guest load.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ServerSetup describes the remote service's initial state.
type ServerSetup struct {
	// Users maps user ids to bearer tokens.
	Users map[string]string `yaml:"users,omitempty"`

	// Prices is the catalog used by the guest price refresh.
	Prices map[string]float64 `yaml:"prices,omitempty"`

	// Seed maps user id, then collection name, to the stored list.
	Seed map[string]map[string][]remote.WireItem `yaml:"seed,omitempty"`
}

// Step is a single action. Exactly one field other than Token is set.
type Step struct {
	Login       string    `yaml:"login,omitempty"`
	Token       string    `yaml:"token,omitempty"`
	Logout      bool      `yaml:"logout,omitempty"`
	Add         *ItemStep `yaml:"add,omitempty"`
	Remove      *ItemStep `yaml:"remove,omitempty"`
	SetQuantity *ItemStep `yaml:"set_quantity,omitempty"`
	Toggle      *ItemStep `yaml:"toggle,omitempty"`
	Advance     string    `yaml:"advance,omitempty"`
	Flush       bool      `yaml:"flush,omitempty"`
	Reload      bool      `yaml:"reload,omitempty"`
	Fail        *FailStep `yaml:"fail,omitempty"`
	Recover     bool      `yaml:"recover,omitempty"`
}

// ItemStep targets one item in one collection.
type ItemStep struct {
	Collection string  `yaml:"collection"`
	ID         string  `yaml:"id"`
	Quantity   int     `yaml:"quantity,omitempty"`
	Name       string  `yaml:"name,omitempty"`
	Price      float64 `yaml:"price,omitempty"`
	Category   string  `yaml:"category,omitempty"`

	// ExpectError is "invalid" or "unsupported" when the mutation must be
	// rejected.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// FailStep makes the remote service answer with Status. Count < 0 fails
// every request until a recover step.
type FailStep struct {
	Status int `yaml:"status"`
	Count  int `yaml:"count"`
}

// Assertion checks the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Collection names the collection (items, server_items).
	Collection string `yaml:"collection,omitempty"`

	// User is the remote account (server_items).
	User string `yaml:"user,omitempty"`

	// IDs is the expected order (items, server_items, pickup).
	IDs []string `yaml:"ids,omitempty"`

	// Quantities optionally checks cart quantities by id (items, server_items).
	Quantities map[string]int `yaml:"quantities,omitempty"`

	// Key and Present check the local store (local_key).
	Key     string `yaml:"key,omitempty"`
	Present *bool  `yaml:"present,omitempty"`

	// Call and Count check the remote call counters (calls).
	Call  string `yaml:"call,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Summary amounts (summary). Unset fields are not checked.
	Selected bool     `yaml:"selected,omitempty"`
	Subtotal *float64 `yaml:"subtotal,omitempty"`
	Shipping *float64 `yaml:"shipping,omitempty"`
	Tax      *float64 `yaml:"tax,omitempty"`
	Total    *float64 `yaml:"total,omitempty"`
}

// Assertion type constants.
const (
	AssertItems       = "items"
	AssertServerItems = "server_items"
	AssertLocalKey    = "local_key"
	AssertCalls       = "calls"
	AssertSummary     = "summary"
	AssertPickup      = "pickup"
)

// Expected error classes for ItemStep.ExpectError.
const (
	ErrorInvalid     = "invalid"
	ErrorUnsupported = "unsupported"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for user, byKind := range s.Server.Seed {
		for name := range byKind {
			if _, err := item.ParseKind(name); err != nil {
				return fmt.Errorf("server.seed.%s: %w", user, err)
			}
		}
	}

	for i := range s.Steps {
		if err := validateStep(&s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(st *Step) error {
	set := 0
	count := func(ok bool) {
		if ok {
			set++
		}
	}
	count(st.Login != "")
	count(st.Logout)
	count(st.Add != nil)
	count(st.Remove != nil)
	count(st.SetQuantity != nil)
	count(st.Toggle != nil)
	count(st.Advance != "")
	count(st.Flush)
	count(st.Reload)
	count(st.Fail != nil)
	count(st.Recover)
	if set != 1 {
		return fmt.Errorf("exactly one action is required, got %d", set)
	}
	if st.Token != "" && st.Login == "" {
		return fmt.Errorf("token is only valid with login")
	}

	if st.Advance != "" {
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("advance must be positive, got %s", d)
		}
	}
	if st.Fail != nil && st.Fail.Status < 400 {
		return fmt.Errorf("fail: status must be an error status, got %d", st.Fail.Status)
	}

	for name, is := range map[string]*ItemStep{
		"add": st.Add, "remove": st.Remove, "set_quantity": st.SetQuantity, "toggle": st.Toggle,
	} {
		if is == nil {
			continue
		}
		if _, err := item.ParseKind(is.Collection); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		switch is.ExpectError {
		case "", ErrorInvalid, ErrorUnsupported:
		default:
			return fmt.Errorf("%s: unknown expect_error %q", name, is.ExpectError)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertItems:
		if _, err := item.ParseKind(a.Collection); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertServerItems:
		if a.User == "" {
			return fmt.Errorf("assertions[%d]: server_items requires user", index)
		}
		if _, err := item.ParseKind(a.Collection); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertLocalKey:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: local_key requires key", index)
		}
	case AssertCalls:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: calls requires call", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be >= 0", index)
		}
	case AssertSummary:
		if a.Subtotal == nil && a.Shipping == nil && a.Tax == nil && a.Total == nil {
			return fmt.Errorf("assertions[%d]: summary requires at least one amount", index)
		}
	case AssertPickup:
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	return nil
}
