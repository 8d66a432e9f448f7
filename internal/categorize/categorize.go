// Package categorize assigns emails to categories with ordered regex rules
// plus user overrides persisted alongside the database.
package categorize

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/mailsift/mailsift/internal/fileutil"
)

const (
	senderOverridesFile  = "sender_categories.json"
	subjectOverridesFile = "subject_categories.json"
	customCategoriesFile = "custom_categories.json"
)

// Input is the slice of email metadata the categorizer looks at.
type Input struct {
	Sender          string
	Subject         string
	Labels          string // pipe-bracketed form
	ListUnsubscribe string
}

// CustomCategory is a user-defined category with a display color.
type CustomCategory struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Categorizer matches emails against the built-in rule table and the
// user's override artifacts. Safe for concurrent use.
type Categorizer struct {
	dir string

	mu               sync.RWMutex
	senderOverrides  map[string]string
	subjectOverrides map[string]string
	custom           []CustomCategory
}

// New loads the override artifacts from dir (missing files mean empty
// tables) and returns a ready categorizer.
func New(dir string) (*Categorizer, error) {
	c := &Categorizer{
		dir:              dir,
		senderOverrides:  make(map[string]string),
		subjectOverrides: make(map[string]string),
	}
	if _, err := fileutil.ReadJSON(filepath.Join(dir, senderOverridesFile), &c.senderOverrides); err != nil {
		return nil, err
	}
	if _, err := fileutil.ReadJSON(filepath.Join(dir, subjectOverridesFile), &c.subjectOverrides); err != nil {
		return nil, err
	}
	if _, err := fileutil.ReadJSON(filepath.Join(dir, customCategoriesFile), &c.custom); err != nil {
		return nil, err
	}
	return c, nil
}

// Categorize returns the category for an email. Precedence: sender override,
// subject override, first matching rule, then List-Unsubscribe pushes
// otherwise-unmatched mail to Newsletters.
func (c *Categorizer) Categorize(in Input) string {
	c.mu.RLock()
	if cat, ok := c.senderOverrides[in.Sender]; ok {
		c.mu.RUnlock()
		return cat
	}
	if cat, ok := c.subjectOverrides[in.Subject]; ok {
		c.mu.RUnlock()
		return cat
	}
	c.mu.RUnlock()

	for _, r := range rules {
		if r.sender != nil && r.sender.MatchString(in.Sender) {
			return r.category
		}
		if r.subject != nil && r.subject.MatchString(in.Subject) {
			return r.category
		}
		if r.labels != nil && r.labels.MatchString(in.Labels) {
			return r.category
		}
	}

	if in.ListUnsubscribe != "" {
		return Newsletters
	}
	return Other
}

// AllCategoryNames returns every assignable category: built-ins, Noise, and
// custom categories in creation order.
func (c *Categorizer) AllCategoryNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(BuiltinCategories)+1+len(c.custom))
	names = append(names, BuiltinCategories...)
	names = append(names, Noise)
	for _, cc := range c.custom {
		names = append(names, cc.Name)
	}
	return names
}

// ValidCategory reports whether name is assignable.
func (c *Categorizer) ValidCategory(name string) bool {
	return slices.Contains(c.AllCategoryNames(), name)
}

// IsBuiltin reports whether name is one of the built-in categories or
// Noise. Built-ins cannot be renamed or deleted.
func IsBuiltin(name string) bool {
	return name == Noise || slices.Contains(BuiltinCategories, name)
}

// SenderOverrides returns a copy of the sender override table.
func (c *Categorizer) SenderOverrides() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.senderOverrides)
}

// SubjectOverrides returns a copy of the subject override table.
func (c *Categorizer) SubjectOverrides() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.subjectOverrides)
}

// AssignSender pins every email from sender to category.
func (c *Categorizer) AssignSender(sender, category string) error {
	if !c.ValidCategory(category) {
		return fmt.Errorf("unknown category: %s", category)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senderOverrides[sender] = category
	return c.saveSenderOverridesLocked()
}

// AssignSubject pins every email with this exact subject to category.
func (c *Categorizer) AssignSubject(subject, category string) error {
	if !c.ValidCategory(category) {
		return fmt.Errorf("unknown category: %s", category)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjectOverrides[subject] = category
	return c.saveSubjectOverridesLocked()
}

// RemoveSenderOverride drops the override for sender. Removing an absent
// override is a no-op.
func (c *Categorizer) RemoveSenderOverride(sender string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.senderOverrides, sender)
	return c.saveSenderOverridesLocked()
}

// RemoveSubjectOverride drops the override for subject.
func (c *Categorizer) RemoveSubjectOverride(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subjectOverrides, subject)
	return c.saveSubjectOverridesLocked()
}

// CustomCategories returns the user-defined categories.
func (c *Categorizer) CustomCategories() []CustomCategory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.custom)
}

// CreateCustom adds a user-defined category.
func (c *Categorizer) CreateCustom(name, color string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("category name cannot be empty")
	}
	if c.ValidCategory(name) {
		return fmt.Errorf("category %q already exists", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom = append(c.custom, CustomCategory{Name: name, Color: color})
	return c.saveCustomLocked()
}

// RenameCustom renames a user-defined category. The caller cascades the
// change onto stored emails.
func (c *Categorizer) RenameCustom(oldName, newName string) error {
	if IsBuiltin(oldName) {
		return fmt.Errorf("cannot rename built-in category %q", oldName)
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("category name cannot be empty")
	}
	if c.ValidCategory(newName) {
		return fmt.Errorf("category %q already exists", newName)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := slices.IndexFunc(c.custom, func(cc CustomCategory) bool { return cc.Name == oldName })
	if idx < 0 {
		return fmt.Errorf("category %q not found", oldName)
	}
	c.custom[idx].Name = newName
	return c.saveCustomLocked()
}

// DeleteCustom removes a user-defined category. The caller reassigns its
// emails to Other.
func (c *Categorizer) DeleteCustom(name string) error {
	if IsBuiltin(name) {
		return fmt.Errorf("cannot delete built-in category %q", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := slices.IndexFunc(c.custom, func(cc CustomCategory) bool { return cc.Name == name })
	if idx < 0 {
		return fmt.Errorf("category %q not found", name)
	}
	c.custom = slices.Delete(c.custom, idx, idx+1)
	return c.saveCustomLocked()
}

func (c *Categorizer) saveSenderOverridesLocked() error {
	return fileutil.WriteJSON(filepath.Join(c.dir, senderOverridesFile), c.senderOverrides)
}

func (c *Categorizer) saveSubjectOverridesLocked() error {
	return fileutil.WriteJSON(filepath.Join(c.dir, subjectOverridesFile), c.subjectOverrides)
}

func (c *Categorizer) saveCustomLocked() error {
	return fileutil.WriteJSON(filepath.Join(c.dir, customCategoriesFile), c.custom)
}
