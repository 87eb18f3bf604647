package backend

import "testing"

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo("claude-sonnet-4-5")
	if info == nil {
		t.Fatal("expected catalog entry")
	}
	if info.Provider != "anthropic" {
		t.Errorf("expected anthropic, got %s", info.Provider)
	}
	if info.ContextWindow != 200000 {
		t.Errorf("expected context window 200000, got %d", info.ContextWindow)
	}
}

func TestGetModelInfoByAlias(t *testing.T) {
	info := GetModelInfo("haiku")
	if info == nil {
		t.Fatal("expected catalog entry for alias")
	}
	if info.ID != "claude-haiku-4-5" {
		t.Errorf("expected claude-haiku-4-5, got %s", info.ID)
	}
}

func TestGetModelInfoUnknown(t *testing.T) {
	if info := GetModelInfo("no-such-model"); info != nil {
		t.Errorf("expected nil, got %+v", info)
	}
}

func TestListModelsByProvider(t *testing.T) {
	models := ListModels("openai")
	if len(models) == 0 {
		t.Fatal("expected openai models")
	}
	for _, m := range models {
		if m.Provider != "openai" {
			t.Errorf("unexpected provider %s in filtered list", m.Provider)
		}
	}
}

func TestListModelsAll(t *testing.T) {
	all := ListModels("")
	if len(all) != len(Models) {
		t.Errorf("expected %d models, got %d", len(Models), len(all))
	}
}

func TestDefaultModelTiers(t *testing.T) {
	tests := []struct {
		provider string
		tier     ModelTier
		wantID   string
	}{
		{"anthropic", TierCapable, "claude-sonnet-4-5"},
		{"anthropic", TierFast, "claude-haiku-4-5"},
		{"openai", TierCapable, "gpt-5.2"},
		{"openai", TierFast, "gpt-5.2-mini"},
	}

	for _, tt := range tests {
		info := DefaultModel(tt.provider, tt.tier)
		if info == nil {
			t.Errorf("%s/%s: expected model", tt.provider, tt.tier)
			continue
		}
		if info.ID != tt.wantID {
			t.Errorf("%s/%s: expected %s, got %s", tt.provider, tt.tier, tt.wantID, info.ID)
		}
	}
}

func TestDefaultModelUnknownProvider(t *testing.T) {
	if info := DefaultModel("nonexistent", TierFast); info != nil {
		t.Errorf("expected nil, got %+v", info)
	}
}
