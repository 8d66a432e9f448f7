package api

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/orchestrator"
	"github.com/mailsift/mailsift/internal/store"
)

// categoryCacheKeys go stale whenever categorization changes.
var categoryCacheKeys = []string{"overview", "categories", "senders", "alerts", "eda"}

type categorySender struct {
	Sender   string `json:"sender"`
	Count    int    `json:"count"`
	LastDate string `json:"last_date"`
}

// categoryGroup is one category with its sender breakdown for the
// management view.
type categoryGroup struct {
	Category         string            `json:"category"`
	Count            int               `json:"count"`
	Senders          []categorySender  `json:"senders"`
	Overrides        map[string]string `json:"overrides"`
	IsSystem         bool              `json:"is_system"`
	IsNoise          bool              `json:"is_noise"`
	SubjectOverrides []string          `json:"subject_overrides,omitempty"`
	Color            string            `json:"color,omitempty"`
}

func (s *Server) handleCategoryGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := orchestrator.Memo(s.deps.Runner.Cache(), "categories", func() ([]categoryGroup, error) {
		return s.categoryGroups(r)
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// categoryGroups walks the archive once, grouping senders under their
// category. Emails without a sender are left out of the rollup.
func (s *Server) categoryGroups(r *http.Request) ([]categoryGroup, error) {
	ctx := r.Context()

	type senderAgg struct {
		count    int
		lastDate string
	}
	byCategory := make(map[string]map[string]*senderAgg)

	const page = 500
	for offset := 0; ; offset += page {
		emails, err := s.deps.Store.GetEmails(ctx, store.Filter{}, page, offset, false)
		if err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Sender == "" {
				continue
			}
			cat := e.Category
			if cat == "" {
				cat = categorize.Other
			}
			senders := byCategory[cat]
			if senders == nil {
				senders = make(map[string]*senderAgg)
				byCategory[cat] = senders
			}
			agg := senders[e.Sender]
			if agg == nil {
				agg = &senderAgg{}
				senders[e.Sender] = agg
			}
			agg.count++
			if e.DateISO > agg.lastDate {
				agg.lastDate = e.DateISO
			}
		}
		if len(emails) < page {
			break
		}
	}

	senderOverrides := s.deps.Categorizer.SenderOverrides()
	subjectOverrides := s.deps.Categorizer.SubjectOverrides()
	var noiseSubjects []string
	for subject, cat := range subjectOverrides {
		if cat == categorize.Noise {
			noiseSubjects = append(noiseSubjects, subject)
		}
	}
	sort.Strings(noiseSubjects)

	colors := make(map[string]string)
	for _, cc := range s.deps.Categorizer.CustomCategories() {
		colors[cc.Name] = cc.Color
	}

	groups := make([]categoryGroup, 0)
	for _, cat := range s.deps.Categorizer.AllCategoryNames() {
		senders := byCategory[cat]
		isNoise := cat == categorize.Noise
		if len(senders) == 0 && !(isNoise && len(noiseSubjects) > 0) {
			continue
		}

		list := make([]categorySender, 0, len(senders))
		total := 0
		for sender, agg := range senders {
			list = append(list, categorySender{Sender: sender, Count: agg.count, LastDate: agg.lastDate})
			total += agg.count
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Count != list[j].Count {
				return list[i].Count > list[j].Count
			}
			return list[i].Sender < list[j].Sender
		})
		if len(list) > 100 {
			list = list[:100]
		}

		overrides := make(map[string]string)
		for sender, target := range senderOverrides {
			if _, ok := senders[sender]; ok {
				overrides[sender] = target
			}
		}

		group := categoryGroup{
			Category:  cat,
			Count:     total,
			Senders:   list,
			Overrides: overrides,
			IsSystem:  slices.Contains(categorize.BuiltinCategories, cat),
			IsNoise:   isNoise,
		}
		if isNoise {
			group.SubjectOverrides = noiseSubjects
		}
		if color, ok := colors[cat]; ok {
			group.Color = color
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (s *Server) handleCustomCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Categorizer.CustomCategories())
}

type assignRequest struct {
	Sender   string `json:"sender"`
	Subject  string `json:"subject"`
	Category string `json:"category"`
}

func (s *Server) handleAssignCategory(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Sender == "" && req.Subject == "" {
		writeError(w, http.StatusBadRequest, "Either sender or subject is required")
		return
	}
	if !s.deps.Categorizer.ValidCategory(req.Category) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown category: %s", req.Category))
		return
	}

	var resp map[string]any
	if req.Sender != "" {
		if err := s.deps.Categorizer.AssignSender(req.Sender, req.Category); err != nil {
			s.internalError(w, r, err)
			return
		}
		updated, err := s.patchCategory(r, store.Filter{Sender: req.Sender}, req.Category)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		s.logger.Info("sender category assigned", "sender", req.Sender, "category", req.Category, "updated", updated)
		resp = map[string]any{"updated": updated, "sender": req.Sender, "category": req.Category}
	} else {
		if err := s.deps.Categorizer.AssignSubject(req.Subject, req.Category); err != nil {
			s.internalError(w, r, err)
			return
		}
		updated, err := s.patchCategory(r, store.Filter{Subject: req.Subject}, req.Category)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		s.logger.Info("subject category assigned", "subject", req.Subject, "category", req.Category, "updated", updated)
		resp = map[string]any{"updated": updated, "subject": req.Subject, "category": req.Category}
	}

	s.deps.Runner.Cache().Invalidate(categoryCacheKeys...)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Sender == "" && req.Subject == "" {
		writeError(w, http.StatusBadRequest, "Either sender or subject is required")
		return
	}

	var (
		removed string
		filter  store.Filter
		err     error
	)
	if req.Sender != "" {
		removed = req.Sender
		filter = store.Filter{Sender: req.Sender}
		err = s.deps.Categorizer.RemoveSenderOverride(req.Sender)
	} else {
		removed = req.Subject
		filter = store.Filter{Subject: req.Subject}
		err = s.deps.Categorizer.RemoveSubjectOverride(req.Subject)
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	// Emails pinned by the override fall back to Other until the next
	// recategorize pass.
	reassigned, err := s.patchCategory(r, filter, categorize.Other)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logger.Info("category override removed", "removed", removed, "reassigned", reassigned)

	s.deps.Runner.Cache().Invalidate(categoryCacheKeys...)
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "reassigned": reassigned})
}

type createCategoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Name cannot be empty")
		return
	}
	if s.deps.Categorizer.ValidCategory(name) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Category '%s' already exists", name))
		return
	}
	if err := s.deps.Categorizer.CreateCustom(name, req.Color); err != nil {
		s.internalError(w, r, err)
		return
	}

	s.deps.Runner.Cache().Invalidate("categories")
	writeJSON(w, http.StatusOK, s.deps.Categorizer.CustomCategories())
}

type renameCategoryRequest struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var req renameCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if slices.Contains(categorize.BuiltinCategories, req.OldName) {
		writeError(w, http.StatusBadRequest, "Cannot rename system categories")
		return
	}
	if !s.isCustomCategory(req.OldName) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Category '%s' not found", req.OldName))
		return
	}
	newName := strings.TrimSpace(req.NewName)
	if newName == "" {
		writeError(w, http.StatusBadRequest, "Name cannot be empty")
		return
	}
	if s.deps.Categorizer.ValidCategory(newName) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Category '%s' already exists", newName))
		return
	}

	if err := s.deps.Categorizer.RenameCustom(req.OldName, newName); err != nil {
		s.internalError(w, r, err)
		return
	}
	renamed, err := s.patchCategory(r, store.Filter{Category: req.OldName}, newName)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logger.Info("category renamed", "old_name", req.OldName, "new_name", newName, "emails", renamed)

	s.deps.Runner.Cache().Invalidate(categoryCacheKeys...)
	writeJSON(w, http.StatusOK, map[string]any{
		"renamed":  renamed,
		"old_name": req.OldName,
		"new_name": newName,
	})
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if slices.Contains(categorize.BuiltinCategories, name) {
		writeError(w, http.StatusBadRequest, "Cannot delete system categories")
		return
	}
	if !s.isCustomCategory(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Category '%s' not found", name))
		return
	}

	if err := s.deps.Categorizer.DeleteCustom(name); err != nil {
		s.internalError(w, r, err)
		return
	}
	reassigned, err := s.patchCategory(r, store.Filter{Category: name}, categorize.Other)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logger.Info("category deleted", "name", name, "reassigned", reassigned)

	s.deps.Runner.Cache().Invalidate(categoryCacheKeys...)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name, "reassigned": reassigned})
}

func (s *Server) isCustomCategory(name string) bool {
	for _, cc := range s.deps.Categorizer.CustomCategories() {
		if cc.Name == name {
			return true
		}
	}
	return false
}

// patchCategory rewrites the stored category on every email matching f.
// The count reflects matches, not changes.
func (s *Server) patchCategory(r *http.Request, f store.Filter, category string) (int, error) {
	ctx := r.Context()
	var patches []*store.MetadataPatch

	const page = 500
	for offset := 0; ; offset += page {
		emails, err := s.deps.Store.GetEmails(ctx, f, page, offset, false)
		if err != nil {
			return 0, err
		}
		for _, e := range emails {
			patches = append(patches, &store.MetadataPatch{GmailID: e.GmailID, Category: store.Ptr(category)})
		}
		if len(emails) < page {
			break
		}
	}

	if len(patches) == 0 {
		return 0, nil
	}
	if err := s.deps.Store.ApplyMetadataPatches(ctx, patches); err != nil {
		return 0, err
	}
	return len(patches), nil
}
