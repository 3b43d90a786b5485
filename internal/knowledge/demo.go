package knowledge

import "time"

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

// DemoArtifacts is the seed content shipped with the reference backend.
var DemoArtifacts = []Artifact{
	{
		ID:          1,
		Title:       "Company Onboarding Guide",
		Content:     "Welcome to the company! This comprehensive guide covers basic policies, procedures, and getting started information for new employees.",
		Type:        TypeDocumentation,
		AccessLevel: 10,
		Tags:        []string{"onboarding", "basics", "welcome"},
		CreatedAt:   day("2024-01-15"),
	},
	{
		ID:          2,
		Title:       "Python Development Standards",
		Content:     "Our coding standards for Python development including PEP 8 compliance, testing requirements, code review processes, and deployment guidelines.",
		Type:        TypeDocumentation,
		AccessLevel: 30,
		Tags:        []string{"python", "coding", "standards", "development"},
		CreatedAt:   day("2024-02-01"),
	},
	{
		ID:          3,
		Title:       "Architecture Decision Record - Microservices Migration",
		Content:     "Decision to migrate from monolith to microservices architecture. Includes rationale, implementation plan, timeline, and technical considerations.",
		Type:        TypeArchitectureDoc,
		AccessLevel: 60,
		Tags:        []string{"architecture", "microservices", "migration", "technical"},
		CreatedAt:   day("2024-02-15"),
	},
	{
		ID:          4,
		Title:       "Strategic Product Roadmap Q1-Q4 2024",
		Content:     "Confidential 12-month product strategy including competitive analysis, market positioning, feature priorities, and financial projections.",
		Type:        TypeStrategy,
		AccessLevel: 80,
		Tags:        []string{"strategy", "roadmap", "confidential", "leadership"},
		CreatedAt:   day("2024-03-01"),
	},
}
