package models

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Test{},
		&MCQ{},
		&CodingChallenge{},
		&Submission{},
		&CodingAttempt{},
		&TestSession{},
		&TestInvitation{},
		&Certificate{},
		&TestAnalytics{},
		&Asset{},
		&ActivityLog{},
	}
}
