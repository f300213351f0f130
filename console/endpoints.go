package console

import (
	"context"

	"github.com/hazyhaar/dashctl/journal"
	"github.com/hazyhaar/dashctl/kit"
	"github.com/hazyhaar/dashctl/section"
)

// Requests and responses shared by the HTTP and MCP transports.

type ShowRequest struct {
	ID string `json:"id"`
}

type ShowResponse struct {
	Active    string            `json:"active"`
	Previous  string            `json:"previous"`
	Diagnosis section.Diagnosis `json:"diagnosis"`
}

type DiagnoseRequest struct {
	ID string `json:"id,omitempty"` // empty = every registered section
}

type SectionsResponse struct {
	Active   string            `json:"active"`
	Sections []section.Section `json:"sections"`
}

type ThemeRequest struct {
	Theme string `json:"theme"`
}

type ThemeResponse struct {
	Theme string `json:"theme"`
}

type JournalRequest struct {
	SectionID string `json:"section_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type JournalResponse struct {
	Entries []journal.Entry `json:"entries"`
}

func (c *Console) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.WithLogging(c.logger, name))(ep)
}

func (c *Console) showEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*ShowRequest)
	prev, err := c.ctrl.Show(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	c.afterChange()
	return &ShowResponse{Active: r.ID, Previous: prev, Diagnosis: c.ctrl.Diagnose(ctx, r.ID)}, nil
}

func (c *Console) diagnoseEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*DiagnoseRequest)
	if r.ID == "" {
		return c.ctrl.DiagnoseAll(ctx), nil
	}
	return c.ctrl.Diagnose(ctx, r.ID), nil
}

func (c *Console) sectionsEndpoint(_ context.Context, _ any) (any, error) {
	return &SectionsResponse{Active: c.ctrl.Active(), Sections: c.ctrl.Sections()}, nil
}

func (c *Console) themeGetEndpoint(ctx context.Context, _ any) (any, error) {
	t, err := c.pref.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &ThemeResponse{Theme: string(t)}, nil
}

func (c *Console) themeSetEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*ThemeRequest)
	if err := c.pref.Set(ctx, r.Theme); err != nil {
		return nil, err
	}
	c.afterChange()
	return &ThemeResponse{Theme: r.Theme}, nil
}

func (c *Console) themeToggleEndpoint(ctx context.Context, _ any) (any, error) {
	t, err := c.pref.Toggle(ctx)
	if err != nil {
		return nil, err
	}
	c.afterChange()
	return &ThemeResponse{Theme: string(t)}, nil
}

func (c *Console) journalEndpoint(ctx context.Context, req any) (any, error) {
	if c.journal == nil {
		return nil, ErrJournalDisabled
	}
	r := req.(*JournalRequest)
	c.journal.Flush()
	entries, err := c.journal.Recent(ctx, journal.Filter{SectionID: r.SectionID, Limit: r.Limit})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return &JournalResponse{Entries: entries}, nil
}
