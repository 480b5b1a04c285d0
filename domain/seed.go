package domain

import "time"

// SeedOwnerID owns every task of the demo dataset.
const SeedOwnerID = "1"

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dayPtr(s string) *time.Time {
	t := day(s)
	return &t
}

// SeedTasks returns the demo collection written to an empty store on first load.
func SeedTasks() []Task {
	return []Task{
		{
			ID:          "1",
			Title:       "Project Planning & Requirements Gathering",
			Description: "Define project scope, gather requirements from stakeholders, create project timeline and resource allocation plan.",
			Status:      StatusCompleted,
			Priority:    PriorityHigh,
			DueDate:     dayPtr("2024-01-15"),
			CreatedAt:   day("2024-01-01"),
			UpdatedAt:   day("2024-01-15"),
			UserID:      SeedOwnerID,
			SharedWith:  []string{"team.lead@company.com"},
		},
		{
			ID:          "2",
			Title:       "System Architecture Design",
			Description: "Design system architecture, database schema, API endpoints, and technology stack selection.",
			Status:      StatusCompleted,
			Priority:    PriorityHigh,
			DueDate:     dayPtr("2024-01-25"),
			CreatedAt:   day("2024-01-16"),
			UpdatedAt:   day("2024-01-25"),
			UserID:      SeedOwnerID,
			SharedWith:  []string{"architect@company.com"},
		},
		{
			ID:          "3",
			Title:       "UI/UX Design & Prototyping",
			Description: "Create wireframes, mockups, and interactive prototypes. Design user interface components and user experience flow.",
			Status:      StatusCompleted,
			Priority:    PriorityMedium,
			DueDate:     dayPtr("2024-02-05"),
			CreatedAt:   day("2024-01-26"),
			UpdatedAt:   day("2024-02-05"),
			UserID:      SeedOwnerID,
			SharedWith:  []string{"designer@company.com"},
		},
		{
			ID:          "4",
			Title:       "Backend Development - Core APIs",
			Description: "Develop REST APIs, implement authentication, database models, and core business logic functionality.",
			Status:      StatusInProgress,
			Priority:    PriorityHigh,
			DueDate:     dayPtr("2024-02-20"),
			CreatedAt:   day("2024-02-06"),
			UpdatedAt:   day("2024-02-15"),
			UserID:      SeedOwnerID,
			SharedWith:  []string{"backend.dev@company.com"},
		},
		{
			ID:          "5",
			Title:       "Frontend Development - User Interface",
			Description: "Build responsive frontend components, implement state management, integrate with backend APIs.",
			Status:      StatusInProgress,
			Priority:    PriorityHigh,
			DueDate:     dayPtr("2024-02-25"),
			CreatedAt:   day("2024-02-10"),
			UpdatedAt:   day("2024-02-18"),
			UserID:      SeedOwnerID,
			SharedWith:  []string{"frontend.dev@company.com"},
		},
		{
			ID:          "6",
			Title:       "Testing & Quality Assurance",
			Description: "Perform unit testing, integration testing, user acceptance testing, and bug fixes.",
			Status:      StatusPending,
			Priority:    PriorityMedium,
			DueDate:     dayPtr("2024-03-05"),
			CreatedAt:   day("2024-02-20"),
			UpdatedAt:   day("2024-02-20"),
			UserID:      SeedOwnerID,
			SharedWith:  []string{"qa.tester@company.com"},
		},
		{
			ID:          "7",
			Title:       "Deployment & DevOps Setup",
			Description: "Set up CI/CD pipeline, configure production environment, deploy application to cloud infrastructure.",
			Status:      StatusPending,
			Priority:    PriorityHigh,
			DueDate:     dayPtr("2024-03-10"),
			CreatedAt:   day("2024-02-25"),
			UpdatedAt:   day("2024-02-25"),
			UserID:      SeedOwnerID,
			SharedWith:  []string{"devops@company.com"},
		},
		{
			ID:          "8",
			Title:       "Documentation & Project Handover",
			Description: "Create technical documentation, user manuals, API documentation, and conduct knowledge transfer sessions.",
			Status:      StatusPending,
			Priority:    PriorityLow,
			DueDate:     dayPtr("2024-03-15"),
			CreatedAt:   day("2024-03-01"),
			UpdatedAt:   day("2024-03-01"),
			UserID:      SeedOwnerID,
			SharedWith:  []string{"tech.writer@company.com"},
		},
	}
}
