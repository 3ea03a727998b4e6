package audit

import "time"

// RecordCommand logs a command sanitizer decision
func RecordCommand(sink Sink, tokens []string, outcome, detail string) error {
	subject := ""
	if len(tokens) > 0 {
		subject = tokens[0]
	}
	cp := make([]string, len(tokens))
	copy(cp, tokens)
	return sink.Log(Event{
		Timestamp: time.Now().UTC(),
		Type:      TypeCommand,
		SubjectID: subject,
		Outcome:   outcome,
		Detail:    detail,
		Tokens:    cp,
	})
}

// RecordViolation logs a sandbox session violation
func RecordViolation(sink Sink, subjectID, kind, detail string) error {
	return sink.Log(Event{
		Timestamp: time.Now().UTC(),
		Type:      TypeViolation,
		SubjectID: subjectID,
		Outcome:   OutcomeViolation,
		Kind:      kind,
		Detail:    detail,
	})
}

// RecordLoad logs the result of a load attempt
func RecordLoad(sink Sink, subjectID, outcome, detail string, metadata map[string]string) error {
	return sink.Log(Event{
		Timestamp: time.Now().UTC(),
		Type:      TypeLoad,
		SubjectID: subjectID,
		Outcome:   outcome,
		Detail:    detail,
		Metadata:  metadata,
	})
}

// RecordUnload logs a session teardown
func RecordUnload(sink Sink, subjectID, detail string) error {
	return sink.Log(Event{
		Timestamp: time.Now().UTC(),
		Type:      TypeUnload,
		SubjectID: subjectID,
		Outcome:   OutcomeUnloaded,
		Detail:    detail,
	})
}
