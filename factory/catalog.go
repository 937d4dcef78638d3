/*
Package factory converts catalog definitions into validated engine types.

PURPOSE:
  HR keeps allowance, deduction and benefit types (and, for demos, an
  employee roster) in a YAML or JSON file. The factory parses the file,
  applies defaults, validates every entry with the same rules the services
  use, and seeds a store through the services so audits are written.

SCHEMA (YAML; JSON with the same keys is accepted):
  allowances:
    - id: alw-rice
      code: RICE
      name: Rice Subsidy
      calculation_type: fixed        # fixed | percentage | formula | manual
      default_amount: 1500
      frequency: every_period        # default every_period
  deductions:
    - id: ded-sss
      code: SSS
      name: Social Security
      calculation_type: percentage
      percentage: 4.5
      percentage_base: monthly_salary
      mandatory: true
      frequency: monthly
  benefits:
    - id: bnt-13th
      code: 13TH
      name: 13th Month Pay
      category: annual
      calculation_type: percentage
      percentage: 100
      minimum_service_months: 1
      taxable: true
      prorated: true
  employees:
    - id: emp-1
      name: Ana Cruz
      monthly_salary: 22000
      hire_date: 2020-01-06
      salary_history:
        - {effective_date: 2020-01-06, monthly_salary: 18000}
      leave_year: 2025              # opens a leave balance for the year

DEFAULTS:
  active: true, frequency: every_period, status: active

USAGE:
  cat, err := factory.LoadFile("catalog.yaml")
  report, err := factory.Seed(ctx, "system", cat, factory.Targets{...})

SEE ALSO:
  - presets.go: built-in catalog
  - seed.go: writes a catalog through the services
*/
package factory

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/benefits"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/rules"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DEFINITION TYPES
// =============================================================================

// CatalogDef is the file representation of a catalog.
type CatalogDef struct {
	Allowances []RuleTypeDef    `yaml:"allowances" json:"allowances"`
	Deductions []RuleTypeDef    `yaml:"deductions" json:"deductions"`
	Benefits   []BenefitTypeDef `yaml:"benefits" json:"benefits"`
	Employees  []EmployeeDef    `yaml:"employees" json:"employees"`
}

// CalculationDef is shared by rule and benefit type definitions.
type CalculationDef struct {
	CalculationType string          `yaml:"calculation_type" json:"calculation_type"`
	DefaultAmount   decimal.Decimal `yaml:"default_amount" json:"default_amount"`
	Percentage      decimal.Decimal `yaml:"percentage" json:"percentage"`
	PercentageBase  string          `yaml:"percentage_base" json:"percentage_base"`
	Formula         string          `yaml:"formula" json:"formula"`
}

type RuleTypeDef struct {
	ID             string `yaml:"id" json:"id"`
	Code           string `yaml:"code" json:"code"`
	Name           string `yaml:"name" json:"name"`
	CalculationDef `yaml:",inline"`
	Taxable        bool   `yaml:"taxable" json:"taxable"`
	Mandatory      bool   `yaml:"mandatory" json:"mandatory"`
	Frequency      string `yaml:"frequency" json:"frequency"`
	Active         *bool  `yaml:"active" json:"active"`
}

type BenefitTypeDef struct {
	ID                   string `yaml:"id" json:"id"`
	Code                 string `yaml:"code" json:"code"`
	Name                 string `yaml:"name" json:"name"`
	Category             string `yaml:"category" json:"category"`
	CalculationDef       `yaml:",inline"`
	MinimumServiceMonths int   `yaml:"minimum_service_months" json:"minimum_service_months"`
	Taxable              bool  `yaml:"taxable" json:"taxable"`
	Prorated             bool  `yaml:"prorated" json:"prorated"`
	Active               *bool `yaml:"active" json:"active"`
}

type SalaryDef struct {
	EffectiveDate generic.TimePoint `yaml:"effective_date" json:"effective_date"`
	MonthlySalary decimal.Decimal   `yaml:"monthly_salary" json:"monthly_salary"`
}

type EmployeeDef struct {
	ID             string             `yaml:"id" json:"id"`
	Name           string             `yaml:"name" json:"name"`
	Email          string             `yaml:"email" json:"email"`
	MonthlySalary  decimal.Decimal    `yaml:"monthly_salary" json:"monthly_salary"`
	HireDate       generic.TimePoint  `yaml:"hire_date" json:"hire_date"`
	SeparationDate *generic.TimePoint `yaml:"separation_date" json:"separation_date"`
	Status         string             `yaml:"status" json:"status"`
	SalaryHistory  []SalaryDef        `yaml:"salary_history" json:"salary_history"`
	LeaveYear      int                `yaml:"leave_year" json:"leave_year"`
	OpeningLeave   *leave.Rate        `yaml:"opening_leave" json:"opening_leave"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a parsed and validated CatalogDef.
type Catalog struct {
	RuleTypes    []rules.RuleType
	BenefitTypes []benefits.BenefitType
	Employees    []EmployeeSeed
}

// EmployeeSeed is one roster entry with its history and leave opening.
type EmployeeSeed struct {
	Employee      generic.Employee
	SalaryHistory []generic.SalaryRecord
	LeaveYear     int
	OpeningLeave  leave.Rate
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes YAML (or JSON) and converts it. Every invalid entry is
// reported in one *generic.ValidationError, with fields prefixed by the
// entry's section and index (e.g. "deductions[1].percentage").
func Parse(data []byte) (*Catalog, error) {
	var def CatalogDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return FromDef(def)
}

// FromDef converts and validates a definition.
func FromDef(def CatalogDef) (*Catalog, error) {
	cat := &Catalog{}
	ve := &generic.ValidationError{}

	collect := func(prefix string, err error) error {
		if err == nil {
			return nil
		}
		inner := &generic.ValidationError{}
		if other := generic.MergeValidation(inner, err); other != nil {
			return other
		}
		for _, f := range inner.Fields {
			ve.Add(prefix+"."+f.Field, f.Rule, f.Message)
		}
		return nil
	}

	codes := map[string]bool{}
	for i, d := range def.Allowances {
		t := d.ruleType(rules.KindAllowance)
		if err := collect(fmt.Sprintf("allowances[%d]", i), rules.ValidateType(t)); err != nil {
			return nil, err
		}
		checkCode(ve, codes, "allowance", fmt.Sprintf("allowances[%d]", i), t.Code)
		cat.RuleTypes = append(cat.RuleTypes, t)
	}
	for i, d := range def.Deductions {
		t := d.ruleType(rules.KindDeduction)
		if err := collect(fmt.Sprintf("deductions[%d]", i), rules.ValidateType(t)); err != nil {
			return nil, err
		}
		checkCode(ve, codes, "deduction", fmt.Sprintf("deductions[%d]", i), t.Code)
		cat.RuleTypes = append(cat.RuleTypes, t)
	}
	for i, d := range def.Benefits {
		t := d.benefitType()
		if err := collect(fmt.Sprintf("benefits[%d]", i), benefits.ValidateType(t)); err != nil {
			return nil, err
		}
		checkCode(ve, codes, "benefit", fmt.Sprintf("benefits[%d]", i), t.Code)
		cat.BenefitTypes = append(cat.BenefitTypes, t)
	}
	for i, d := range def.Employees {
		seed, err := d.seed()
		if err := collect(fmt.Sprintf("employees[%d]", i), err); err != nil {
			return nil, err
		}
		cat.Employees = append(cat.Employees, seed)
	}

	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	return cat, nil
}

func checkCode(ve *generic.ValidationError, seen map[string]bool, kind, prefix, code string) {
	key := kind + "/" + code
	if code != "" && seen[key] {
		ve.Add(prefix+".code", "unique", fmt.Sprintf("duplicate %s code %s", kind, code))
	}
	seen[key] = true
}

// =============================================================================
// CONVERSION
// =============================================================================

func (d CalculationDef) calculation() rules.Calculation {
	return rules.Calculation{
		CalculationType: rules.CalculationType(d.CalculationType),
		DefaultAmount:   d.DefaultAmount,
		Percentage:      d.Percentage,
		PercentageBase:  rules.PercentageBase(d.PercentageBase),
		Formula:         d.Formula,
	}
}

func (d RuleTypeDef) ruleType(kind rules.Kind) rules.RuleType {
	freq := rules.Frequency(d.Frequency)
	if freq == "" {
		freq = rules.FreqEveryPeriod
	}
	return rules.RuleType{
		ID:          d.ID,
		Kind:        kind,
		Code:        d.Code,
		Name:        d.Name,
		Calculation: d.calculation(),
		IsTaxable:   d.Taxable,
		IsMandatory: d.Mandatory,
		Frequency:   freq,
		IsActive:    d.Active == nil || *d.Active,
	}
}

func (d BenefitTypeDef) benefitType() benefits.BenefitType {
	return benefits.BenefitType{
		ID:                   d.ID,
		Code:                 d.Code,
		Name:                 d.Name,
		Category:             benefits.Category(d.Category),
		Calculation:          d.calculation(),
		MinimumServiceMonths: d.MinimumServiceMonths,
		IsTaxable:            d.Taxable,
		IsProrated:           d.Prorated,
		IsActive:             d.Active == nil || *d.Active,
	}
}

func (d EmployeeDef) seed() (EmployeeSeed, error) {
	ve := &generic.ValidationError{}
	if d.ID == "" {
		ve.Add("id", "required", "is required")
	}
	if d.Name == "" {
		ve.Add("name", "required", "is required")
	}
	if !d.MonthlySalary.IsPositive() {
		ve.Add("monthly_salary", "gt", "must be greater than 0")
	}
	if d.HireDate.IsZero() {
		ve.Add("hire_date", "required", "is required")
	}
	status := generic.EmploymentStatus(d.Status)
	switch status {
	case "":
		status = generic.EmploymentActive
	case generic.EmploymentActive, generic.EmploymentInactive, generic.EmploymentSeparated:
	default:
		ve.Add("status", "oneof", "must be one of: active inactive separated")
	}
	if d.LeaveYear != 0 && (d.LeaveYear < 2000 || d.LeaveYear > 2100) {
		ve.Add("leave_year", "range", "must be between 2000 and 2100")
	}

	seed := EmployeeSeed{
		Employee: generic.Employee{
			ID:             generic.EmployeeID(d.ID),
			Name:           d.Name,
			Email:          d.Email,
			MonthlySalary:  d.MonthlySalary,
			HireDate:       d.HireDate,
			SeparationDate: d.SeparationDate,
			Status:         status,
		},
		LeaveYear: d.LeaveYear,
	}
	if d.OpeningLeave != nil {
		seed.OpeningLeave = *d.OpeningLeave
	}
	for i, s := range d.SalaryHistory {
		if s.EffectiveDate.IsZero() || !s.MonthlySalary.IsPositive() {
			ve.Add(fmt.Sprintf("salary_history[%d]", i), "required", "needs effective_date and a positive monthly_salary")
			continue
		}
		seed.SalaryHistory = append(seed.SalaryHistory, generic.SalaryRecord{
			EmployeeID:    seed.Employee.ID,
			EffectiveDate: s.EffectiveDate,
			MonthlySalary: s.MonthlySalary,
		})
	}
	return seed, ve.OrNil()
}
