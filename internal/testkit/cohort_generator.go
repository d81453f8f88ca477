package testkit

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"detectpd/domain/dataset"
)

// CohortGeneratorConfig configures the synthetic CRF cohort generator
type CohortGeneratorConfig struct {
	PatientCount       int       `json:"patient_count"`
	MissingLabRate     float64   `json:"missing_lab_rate"`
	MissingOutcomeRate float64   `json:"missing_outcome_rate"`
	OutcomeNoise       float64   `json:"outcome_noise"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
	Seed               int64     `json:"seed"`
}

// DefaultCohortConfig returns defaults sized for a quick end-to-end run
func DefaultCohortConfig() CohortGeneratorConfig {
	return CohortGeneratorConfig{
		PatientCount:       120,
		MissingLabRate:     0.05,
		MissingOutcomeRate: 0.03,
		OutcomeNoise:       1.0,
		StartDate:          time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:            time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		Seed:               42,
	}
}

// crfColumn is one column of the export: its two header levels and the
// name ingestion renames it to.
type crfColumn struct {
	Group string
	Field string
	Name  string
}

// CRF header layout. Group cells are written once per group the way the
// export merges them; ingestion forward-fills the blanks.
var crfColumns = []crfColumn{
	{"Demographics", "Patient ID", "patient_id"},
	{"", "Age (years)", "age"},
	{"", "Sex", "sex"},
	{"", "Weight (kg)", "weight_kg"},
	{"", "Height (cm)", "height_cm"},
	{"Comorbidities", "Myocardial infarction", "mi"},
	{"", "Congestive heart failure", "chf"},
	{"", "Diabetes", "dm"},
	{"", "Cerebrovascular disease", "cvd"},
	{"", "Any tumor", "tumor"},
	{"Laboratory", "Albumin (g/dL)", "albumin"},
	{"", "Haemoglobin (g/dL)", "hb"},
	{"", "Residual urine (mL/day)", "urine_volume"},
	{"Timeline", "eGFR < 10 date", "egfr_below_10_date"},
	{"", "TKI date", "tki_date"},
	{"", "PD start date", "pd_start_date"},
	{"", "Assessment date", "assessment_date"},
	{"Outcomes", "Kt/V", "ktv"},
	{"", "PET D/P creatinine", "pet"},
}

// Patient is one generated CRF record before it is rendered to cells.
type Patient struct {
	ID       string
	Age      float64
	Sex      string
	WeightKg float64
	HeightCm float64
	MI       bool
	CHF      bool
	Diabetes bool
	CVD      bool
	Tumor    bool
	Albumin     float64 // NaN when missing
	Haemoglobin float64 // NaN when missing
	UrineVolume float64
	EGFRDate    time.Time
	TKIDate     time.Time
	PDStartDate time.Time
	Assessment  time.Time
	KtV         float64 // NaN when missing
	PETRatio    float64 // NaN when missing
}

// CohortGenerator generates a synthetic peritoneal dialysis cohort whose
// outcomes depend on a known subset of the recorded variables.
type CohortGenerator struct {
	config CohortGeneratorConfig
	rng    *rand.Rand
}

// NewCohortGenerator creates a new cohort generator
func NewCohortGenerator(config CohortGeneratorConfig) *CohortGenerator {
	return &CohortGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// GeneratePatients generates every patient record
func (g *CohortGenerator) GeneratePatients() []Patient {
	patients := make([]Patient, g.config.PatientCount)
	for i := range patients {
		patients[i] = g.generatePatient(fmt.Sprintf("PD%04d", i+1))
	}
	return patients
}

func (g *CohortGenerator) generatePatient(id string) Patient {
	p := Patient{ID: id}

	p.Age = clamp(math.Round(58+g.rng.NormFloat64()*13), 18, 90)
	if g.rng.Float64() < 0.55 {
		p.Sex = "M"
		p.HeightCm = clamp(174+g.rng.NormFloat64()*7, 150, 200)
	} else {
		p.Sex = "F"
		p.HeightCm = clamp(162+g.rng.NormFloat64()*6, 140, 190)
	}
	p.HeightCm = math.Round(p.HeightCm)
	bmi := clamp(26+g.rng.NormFloat64()*4, 17, 42)
	p.WeightKg = math.Round(bmi*p.HeightCm*p.HeightCm/10000*10) / 10

	// Comorbidity prevalence rises with age
	ageRisk := (p.Age - 40) / 100
	p.Diabetes = g.rng.Float64() < 0.30+ageRisk*0.4
	p.MI = g.rng.Float64() < 0.10+ageRisk*0.3
	p.CHF = g.rng.Float64() < 0.08+ageRisk*0.3
	p.CVD = g.rng.Float64() < 0.06+ageRisk*0.2
	p.Tumor = g.rng.Float64() < 0.05

	p.Albumin = round2(clamp(3.7-0.008*(p.Age-58)+g.rng.NormFloat64()*0.4, 2.0, 5.0))
	p.Haemoglobin = round2(clamp(11+g.rng.NormFloat64()*1.3, 7, 16))
	p.UrineVolume = math.Round(clamp(650+g.rng.NormFloat64()*350, 0, 2500))
	if g.rng.Float64() < g.config.MissingLabRate {
		p.Albumin = math.NaN()
	}
	if g.rng.Float64() < g.config.MissingLabRate {
		p.Haemoglobin = math.NaN()
	}

	// Timeline: eGFR < 10, optional TKI insertion, PD start, assessment
	p.EGFRDate = g.randomTimeInRange(g.config.StartDate, g.config.EndDate.AddDate(0, -6, 0))
	p.TKIDate = p.EGFRDate.AddDate(0, 0, 10+g.rng.Intn(60))
	p.PDStartDate = p.TKIDate.AddDate(0, 0, 7+g.rng.Intn(28))
	p.Assessment = p.PDStartDate.AddDate(0, 0, 30+g.rng.Intn(90))

	p.KtV, p.PETRatio = g.outcomes(p)
	if g.rng.Float64() < g.config.MissingOutcomeRate {
		p.KtV = math.NaN()
	}
	if g.rng.Float64() < g.config.MissingOutcomeRate {
		p.PETRatio = math.NaN()
	}
	return p
}

// outcomes derives Kt/V from body size, residual function and albumin, and
// the PET ratio from age, albumin and diabetes. Unobserved albumin uses the
// cohort mean so outcomes never go missing with their inputs.
func (g *CohortGenerator) outcomes(p Patient) (float64, float64) {
	albumin := p.Albumin
	if math.IsNaN(albumin) {
		albumin = 3.7
	}
	noise := g.config.OutcomeNoise

	ktv := 2.9 - 0.012*p.WeightKg + 0.0004*p.UrineVolume + 0.12*(albumin-3.7) + g.rng.NormFloat64()*0.08*noise
	pet := 0.62 + 0.003*(p.Age-58) - 0.05*(albumin-3.7) + g.rng.NormFloat64()*0.03*noise
	if p.Diabetes {
		pet += 0.04
	}
	return round2(clamp(ktv, 0.8, 3.8)), round2(clamp(pet, 0.3, 0.95))
}

// randomTimeInRange generates a random day between start and end
func (g *CohortGenerator) randomTimeInRange(start, end time.Time) time.Time {
	days := int(end.Sub(start).Hours() / 24)
	if days <= 0 {
		return start
	}
	return start.AddDate(0, 0, g.rng.Intn(days))
}

// GenerateTable renders a fresh cohort as a CRF export: two header rows
// followed by one row per patient.
func (g *CohortGenerator) GenerateTable() dataset.RawTable {
	return RenderTable(g.GeneratePatients())
}

// RenderTable renders patients as a CRF cell grid.
func RenderTable(patients []Patient) dataset.RawTable {
	groups := make([]string, len(crfColumns))
	fields := make([]string, len(crfColumns))
	for i, c := range crfColumns {
		groups[i] = c.Group
		fields[i] = c.Field
	}
	rows := [][]string{groups, fields}
	for _, p := range patients {
		rows = append(rows, []string{
			p.ID,
			formatNumber(p.Age),
			p.Sex,
			formatNumber(p.WeightKg),
			formatNumber(p.HeightCm),
			yesNo(p.MI),
			yesNo(p.CHF),
			yesNo(p.Diabetes),
			yesNo(p.CVD),
			yesNo(p.Tumor),
			formatNumber(p.Albumin),
			formatNumber(p.Haemoglobin),
			formatNumber(p.UrineVolume),
			formatDate(p.EGFRDate),
			formatDate(p.TKIDate),
			formatDate(p.PDStartDate),
			formatDate(p.Assessment),
			formatNumber(p.KtV),
			formatNumber(p.PETRatio),
		})
	}
	return dataset.RawTable{Rows: rows}
}

func formatNumber(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
