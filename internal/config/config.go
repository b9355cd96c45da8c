package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"prepline/internal/domain"
)

// Config models prepline.yml: the exam catalog plus the guardrail limits and
// content rules the pipeline runs under.
type Config struct {
	Catalog struct {
		DefaultExam string                      `yaml:"default_exam"`
		Exams       map[string]ExamConfig       `yaml:"exams"`
		Modules     map[string][]ModuleConfig   `yaml:"modules"`
		Questions   map[string][]QuestionConfig `yaml:"questions"`
	} `yaml:"catalog"`
	Limits struct {
		MinHoursPerWeek float64 `yaml:"min_hours_per_week"`
		MaxHoursPerWeek float64 `yaml:"max_hours_per_week"`
		MaxWeeks        int     `yaml:"max_weeks"`
		MinQuestions    int     `yaml:"min_questions"`
		BudgetTolerance float64 `yaml:"budget_tolerance"`
	} `yaml:"limits"`
	Content struct {
		TrustedURLPrefixes []string `yaml:"trusted_url_prefixes"`
		BlockedTerms       []string `yaml:"blocked_terms"`
	} `yaml:"content"`
	LLM struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
	} `yaml:"llm"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ExamConfig struct {
	Name         string         `yaml:"name"`
	Level        string         `yaml:"level"`
	Prerequisite string         `yaml:"prerequisite"`
	Next         string         `yaml:"next"`
	Domains      []DomainConfig `yaml:"domains"`
}

type DomainConfig struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Weight      float64 `yaml:"weight"`
	Description string  `yaml:"description"`
}

type ModuleConfig struct {
	Name   string  `yaml:"name"`
	Domain string  `yaml:"domain"`
	Hours  float64 `yaml:"hours"`
	URL    string  `yaml:"url"`
	Level  string  `yaml:"level"`
}

type QuestionConfig struct {
	Domain      string   `yaml:"domain"`
	Prompt      string   `yaml:"prompt"`
	Options     []string `yaml:"options"`
	Answer      int      `yaml:"answer"`
	Explanation string   `yaml:"explanation"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run pl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses, applies limit defaults, and validates raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the shipped catalog and rules.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	cfg.applyDefaults()
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "prepline.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

func (c *Config) applyDefaults() {
	if c.Limits.MinHoursPerWeek == 0 {
		c.Limits.MinHoursPerWeek = 1
	}
	if c.Limits.MaxHoursPerWeek == 0 {
		c.Limits.MaxHoursPerWeek = 80
	}
	if c.Limits.MaxWeeks == 0 {
		c.Limits.MaxWeeks = 52
	}
	if c.Limits.MinQuestions == 0 {
		c.Limits.MinQuestions = 5
	}
	if c.Limits.BudgetTolerance == 0 {
		c.Limits.BudgetTolerance = 1.10
	}
	if c.Content.TrustedURLPrefixes == nil {
		c.Content.TrustedURLPrefixes = []string{"https://learn.microsoft.com/", "https://docs.microsoft.com/"}
	}
	if c.Content.BlockedTerms == nil {
		c.Content.BlockedTerms = []string{"braindump", "brain dump", "exam dump", "dumped questions", "actual exam questions"}
	}
}

// Validate ensures the catalog is coherent enough to plan against.
func (c *Config) Validate() error {
	if c.Catalog.DefaultExam == "" {
		return fmt.Errorf("config.catalog.default_exam is required")
	}
	if len(c.Catalog.Exams) == 0 {
		return fmt.Errorf("config.catalog.exams is required")
	}
	if _, ok := c.Catalog.Exams[c.Catalog.DefaultExam]; !ok {
		return fmt.Errorf("default exam %s not in catalog", c.Catalog.DefaultExam)
	}
	for code, exam := range c.Catalog.Exams {
		if exam.Name == "" {
			return fmt.Errorf("exam %s has no name", code)
		}
		if len(exam.Domains) == 0 {
			return fmt.Errorf("exam %s has no domains", code)
		}
		seen := map[string]bool{}
		var sum float64
		for _, d := range exam.Domains {
			if d.ID == "" {
				return fmt.Errorf("exam %s has a domain without id", code)
			}
			if seen[d.ID] {
				return fmt.Errorf("exam %s repeats domain %s", code, d.ID)
			}
			seen[d.ID] = true
			if d.Weight <= 0 {
				return fmt.Errorf("exam %s domain %s weight must be positive", code, d.ID)
			}
			sum += d.Weight
		}
		if math.Abs(sum-1.0) > 0.001 {
			return fmt.Errorf("exam %s domain weights sum to %.3f, want 1.0", code, sum)
		}
		if exam.Prerequisite != "" {
			if _, ok := c.Catalog.Exams[exam.Prerequisite]; !ok {
				return fmt.Errorf("exam %s names unknown prerequisite %s", code, exam.Prerequisite)
			}
		}
		if exam.Next != "" {
			if _, ok := c.Catalog.Exams[exam.Next]; !ok {
				return fmt.Errorf("exam %s names unknown next exam %s", code, exam.Next)
			}
		}
	}
	for code, modules := range c.Catalog.Modules {
		exam, ok := c.Catalog.Exams[code]
		if !ok {
			return fmt.Errorf("modules listed for unknown exam %s", code)
		}
		for _, m := range modules {
			if m.Name == "" {
				return fmt.Errorf("exam %s has a module without name", code)
			}
			if !examHasDomain(exam, m.Domain) {
				return fmt.Errorf("module %q references unknown domain %s", m.Name, m.Domain)
			}
			if m.Hours <= 0 {
				return fmt.Errorf("module %q needs positive hours", m.Name)
			}
			if m.URL != "" && !c.TrustedURL(m.URL) {
				return fmt.Errorf("module %q URL %s is not under a trusted prefix", m.Name, m.URL)
			}
		}
	}
	for code, questions := range c.Catalog.Questions {
		exam, ok := c.Catalog.Exams[code]
		if !ok {
			return fmt.Errorf("questions listed for unknown exam %s", code)
		}
		for i, q := range questions {
			if !examHasDomain(exam, q.Domain) {
				return fmt.Errorf("exam %s question %d references unknown domain %s", code, i, q.Domain)
			}
			if len(q.Options) != 4 {
				return fmt.Errorf("exam %s question %d needs exactly 4 options", code, i)
			}
			if q.Answer < 0 || q.Answer > 3 {
				return fmt.Errorf("exam %s question %d answer index out of range", code, i)
			}
		}
	}
	if c.Limits.MinHoursPerWeek < 0 || c.Limits.MaxHoursPerWeek <= c.Limits.MinHoursPerWeek {
		return fmt.Errorf("config.limits hours range is invalid")
	}
	if c.Limits.MaxWeeks < 1 {
		return fmt.Errorf("config.limits.max_weeks must be at least 1")
	}
	if c.Limits.BudgetTolerance < 1 {
		return fmt.Errorf("config.limits.budget_tolerance must be >= 1")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has no url", i)
		}
		if !c.TrustedURL(hook.URL) {
			return fmt.Errorf("webhook %d url %s is not under a trusted prefix", i, hook.URL)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d timeout must not be negative", i)
		}
	}
	return nil
}

func examHasDomain(exam ExamConfig, id string) bool {
	for _, d := range exam.Domains {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Exam resolves an exam code. Unknown codes fall back to the default exam;
// ok reports whether the code itself was found.
func (c *Config) Exam(code string) (domain.Exam, bool) {
	if e, found := c.Catalog.Exams[code]; found {
		return toExam(code, e), true
	}
	return c.DefaultExam(), false
}

// DefaultExam returns the catalog's fallback exam.
func (c *Config) DefaultExam() domain.Exam {
	return toExam(c.Catalog.DefaultExam, c.Catalog.Exams[c.Catalog.DefaultExam])
}

// ExamCodes lists catalog codes in stable order.
func (c *Config) ExamCodes() []string {
	codes := make([]string, 0, len(c.Catalog.Exams))
	for code := range c.Catalog.Exams {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ModulesFor returns the curated modules for an exam, catalog order.
func (c *Config) ModulesFor(code string) []domain.PathModule {
	modules := c.Catalog.Modules[code]
	out := make([]domain.PathModule, 0, len(modules))
	for _, m := range modules {
		out = append(out, domain.PathModule{
			Name:     m.Name,
			DomainID: m.Domain,
			URL:      m.URL,
			Level:    domain.CoerceExperienceLevel(m.Level),
			Hours:    m.Hours,
		})
	}
	return out
}

// QuestionsFor returns the question bank for an exam, catalog order.
func (c *Config) QuestionsFor(code string) []QuestionConfig {
	return c.Catalog.Questions[code]
}

// TrustedURL reports whether u sits under a trusted prefix.
func (c *Config) TrustedURL(u string) bool {
	for _, prefix := range c.Content.TrustedURLPrefixes {
		if prefix != "" && strings.HasPrefix(u, prefix) {
			return true
		}
	}
	return false
}

func toExam(code string, e ExamConfig) domain.Exam {
	exam := domain.Exam{
		Code:         code,
		Name:         e.Name,
		Level:        domain.CoerceExperienceLevel(e.Level),
		Prerequisite: e.Prerequisite,
		Next:         e.Next,
	}
	for _, d := range e.Domains {
		exam.Domains = append(exam.Domains, domain.Domain{
			ID:          d.ID,
			Name:        d.Name,
			Weight:      d.Weight,
			Description: d.Description,
		})
	}
	return exam
}

const defaultTemplate = `catalog:
  default_exam: az-900

  exams:
    az-900:
      name: "Microsoft Azure Fundamentals"
      level: beginner
      next: az-104
      domains:
        - id: cloud-concepts
          name: "Describe cloud concepts"
          weight: 0.28
          description: "Cloud models, shared responsibility, consumption-based pricing"
        - id: azure-architecture
          name: "Describe Azure architecture and services"
          weight: 0.39
          description: "Core components, compute, networking, and storage services"
        - id: management-governance
          name: "Describe Azure management and governance"
          weight: 0.33
          description: "Cost management, governance tooling, deployment and monitoring"

    az-104:
      name: "Microsoft Azure Administrator"
      level: intermediate
      prerequisite: az-900
      domains:
        - id: identities-governance
          name: "Manage Azure identities and governance"
          weight: 0.22
          description: "Microsoft Entra objects, RBAC, subscriptions and governance"
        - id: storage
          name: "Implement and manage storage"
          weight: 0.17
          description: "Storage accounts, access control, blob and file shares"
        - id: compute
          name: "Deploy and manage compute resources"
          weight: 0.23
          description: "Virtual machines, App Service, containers, automation"
        - id: networking
          name: "Implement and manage virtual networking"
          weight: 0.19
          description: "Virtual networks, peering, load balancing, DNS"
        - id: monitor-maintain
          name: "Monitor and maintain Azure resources"
          weight: 0.19
          description: "Azure Monitor, alerts, backup and recovery"

    ai-900:
      name: "Microsoft Azure AI Fundamentals"
      level: beginner
      domains:
        - id: ai-workloads
          name: "AI workloads and considerations"
          weight: 0.18
          description: "Common AI workloads and responsible AI principles"
        - id: machine-learning
          name: "Principles of machine learning on Azure"
          weight: 0.23
          description: "Core ML concepts and Azure Machine Learning capabilities"
        - id: computer-vision
          name: "Computer vision workloads"
          weight: 0.17
          description: "Image classification, object detection, OCR on Azure"
        - id: nlp
          name: "Natural language processing workloads"
          weight: 0.18
          description: "Text analytics, speech, translation, language understanding"
        - id: generative-ai
          name: "Generative AI workloads"
          weight: 0.24
          description: "Azure OpenAI capabilities and responsible generative AI"

  modules:
    az-900:
      - name: "Describe cloud computing"
        domain: cloud-concepts
        hours: 2.5
        url: https://learn.microsoft.com/training/modules/describe-cloud-compute/
        level: beginner
      - name: "Describe the benefits of using cloud services"
        domain: cloud-concepts
        hours: 1.5
        url: https://learn.microsoft.com/training/modules/describe-benefits-use-cloud-services/
        level: beginner
      - name: "Describe the core architectural components of Azure"
        domain: azure-architecture
        hours: 3
        url: https://learn.microsoft.com/training/modules/describe-core-architectural-components-of-azure/
        level: beginner
      - name: "Describe Azure compute and networking services"
        domain: azure-architecture
        hours: 3.5
        url: https://learn.microsoft.com/training/modules/describe-azure-compute-networking-services/
        level: beginner
      - name: "Describe Azure storage services"
        domain: azure-architecture
        hours: 2.5
        url: https://learn.microsoft.com/training/modules/describe-azure-storage-services/
        level: beginner
      - name: "Describe cost management in Azure"
        domain: management-governance
        hours: 2
        url: https://learn.microsoft.com/training/modules/describe-cost-management-azure/
        level: beginner
      - name: "Describe features and tools for governance and compliance"
        domain: management-governance
        hours: 2.5
        url: https://learn.microsoft.com/training/modules/describe-features-tools-azure-for-governance-compliance/
        level: beginner
      - name: "Describe tools for managing and deploying Azure resources"
        domain: management-governance
        hours: 2
        url: https://learn.microsoft.com/training/modules/describe-features-tools-manage-deploy-azure-resources/
        level: beginner

    az-104:
      - name: "Manage identities in Microsoft Entra ID"
        domain: identities-governance
        hours: 3
        url: https://learn.microsoft.com/training/modules/manage-identities-entra-id/
        level: intermediate
      - name: "Administer governance and compliance"
        domain: identities-governance
        hours: 2.5
        url: https://learn.microsoft.com/training/modules/administer-governance-compliance/
        level: intermediate
      - name: "Configure storage accounts"
        domain: storage
        hours: 3
        url: https://learn.microsoft.com/training/modules/configure-storage-accounts/
        level: intermediate
      - name: "Administer Azure virtual machines"
        domain: compute
        hours: 4
        url: https://learn.microsoft.com/training/modules/administer-azure-virtual-machines/
        level: intermediate
      - name: "Administer PaaS compute options"
        domain: compute
        hours: 3
        url: https://learn.microsoft.com/training/modules/administer-paas-compute-options/
        level: intermediate
      - name: "Administer network traffic"
        domain: networking
        hours: 4
        url: https://learn.microsoft.com/training/modules/administer-network-traffic/
        level: intermediate
      - name: "Administer intersite connectivity"
        domain: networking
        hours: 3
        url: https://learn.microsoft.com/training/modules/administer-intersite-connectivity/
        level: intermediate
      - name: "Monitor resources with Azure Monitor"
        domain: monitor-maintain
        hours: 3
        url: https://learn.microsoft.com/training/modules/monitor-azure-resources/
        level: intermediate
      - name: "Administer data protection"
        domain: monitor-maintain
        hours: 2.5
        url: https://learn.microsoft.com/training/modules/administer-data-protection/
        level: intermediate

    ai-900:
      - name: "Introduction to AI concepts"
        domain: ai-workloads
        hours: 2
        url: https://learn.microsoft.com/training/modules/get-started-ai-fundamentals/
        level: beginner
      - name: "Introduction to machine learning concepts"
        domain: machine-learning
        hours: 3
        url: https://learn.microsoft.com/training/modules/fundamentals-machine-learning/
        level: beginner
      - name: "Computer vision in Azure"
        domain: computer-vision
        hours: 2
        url: https://learn.microsoft.com/training/modules/analyze-images-computer-vision/
        level: beginner
      - name: "Fundamentals of text analysis"
        domain: nlp
        hours: 2
        url: https://learn.microsoft.com/training/modules/analyze-text-with-text-analytics-service/
        level: beginner
      - name: "Introduction to generative AI"
        domain: generative-ai
        hours: 2.5
        url: https://learn.microsoft.com/training/modules/fundamentals-generative-ai/
        level: beginner

  questions:
    az-900:
      - domain: cloud-concepts
        prompt: "Which cloud model runs some workloads on premises while others run in a public cloud?"
        options: ["Public cloud", "Private cloud", "Hybrid cloud", "Community cloud"]
        answer: 2
        explanation: "A hybrid cloud combines on-premises infrastructure with public cloud services."
      - domain: cloud-concepts
        prompt: "In the shared responsibility model, who is always responsible for the data stored in a cloud service?"
        options: ["The cloud provider", "The customer", "The network carrier", "The OS vendor"]
        answer: 1
        explanation: "Customers retain responsibility for their data regardless of service model."
      - domain: azure-architecture
        prompt: "Which Azure construct groups related resources that share a lifecycle?"
        options: ["Subscription", "Resource group", "Management group", "Tenant"]
        answer: 1
        explanation: "Resource groups hold resources that are deployed, updated, and deleted together."
      - domain: management-governance
        prompt: "Which tool estimates the monthly cost of a planned Azure deployment?"
        options: ["Azure Advisor", "Pricing calculator", "Cost alerts", "Azure Monitor"]
        answer: 1
        explanation: "The pricing calculator models costs before any resources are deployed."

limits:
  min_hours_per_week: 1
  max_hours_per_week: 80
  max_weeks: 52
  min_questions: 5
  budget_tolerance: 1.10

content:
  trusted_url_prefixes:
    - https://learn.microsoft.com/
    - https://docs.microsoft.com/
    - https://azure.microsoft.com/
    - https://github.com/MicrosoftLearning/
  blocked_terms:
    - braindump
    - brain dump
    - exam dump
    - dumped questions
    - actual exam questions

# Heuristic profiling needs no credentials. Switching the provider to gemini
# reads GEMINI_API_KEY from the environment.
llm:
  provider: heuristic
  model: gemini-2.0-flash

# webhooks:
#   - url: https://learn.microsoft.com/hooks/example
#     events: [readiness.assessed, quiz.scored]
#     secret: change-me
#     timeout_seconds: 5
`
