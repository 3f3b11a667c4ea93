// Package conditions loads the canonical condition keyword table, either
// from a YAML file or from the built-in clinical defaults.
package conditions

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/oncallai/clinical-assistant/internal/core/domain"
)

// defaultRecords covers the acute cardiovascular and neurological conditions
// the assistant ships with. Keyword groups are pipe-joined search terms.
var defaultRecords = []domain.ConditionRecord{
	{
		Condition: "acute myocardial infarction",
		Emergency: "MI|chest pain|cardiac arrest",
		Treatment: "aspirin|nitroglycerin|thrombolytic|PCI",
	},
	{
		Condition: "acute stroke",
		Emergency: "stroke|neurological deficit|sudden weakness",
		Treatment: "tPA|thrombolysis|stroke unit care",
	},
	{
		Condition: "pulmonary embolism",
		Emergency: "chest pain|shortness of breath|sudden dyspnea",
		Treatment: "anticoagulation|heparin|embolectomy",
	},
	{
		Condition: "acute ischemic stroke",
		Emergency: "ischemic stroke|neurological deficit",
		Treatment: "tPA|stroke unit management",
	},
	{
		Condition: "hemorrhagic stroke",
		Emergency: "hemorrhagic stroke|intracranial bleeding",
		Treatment: "blood pressure control|neurosurgery",
	},
	{
		Condition: "transient ischemic attack",
		Emergency: "TIA|temporary stroke symptoms",
		Treatment: "antiplatelet|lifestyle modification",
	},
	{
		Condition: "acute coronary syndrome",
		Emergency: "ACS|chest pain|ECG changes",
		Treatment: "antiplatelet|statins|cardiac monitoring",
	},
}

// Default returns the built-in table.
func Default() *domain.ConditionTable {
	return domain.NewConditionTable(defaultRecords)
}

type tableFile struct {
	Conditions []domain.ConditionRecord `yaml:"conditions"`
}

// Load reads a condition table from a YAML file. An empty path falls back to
// the built-in defaults.
func Load(path string) (*domain.ConditionTable, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read condition table %s: %w", path, err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse condition table %s: %w", path, err)
	}
	if len(file.Conditions) == 0 {
		return nil, fmt.Errorf("condition table %s: no conditions defined", path)
	}
	for _, rec := range file.Conditions {
		if rec.Condition == "" {
			return nil, fmt.Errorf("condition table %s: record with empty condition name", path)
		}
	}
	return domain.NewConditionTable(file.Conditions), nil
}
