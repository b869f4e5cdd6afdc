package problem

import (
	"github.com/google/uuid"

	"github.com/affinidi/didcomm-mediator/core"
)

const problemReportType = "https://didcomm.org/report-problem/2.0/problem-report"

// New builds a DIDComm report-problem 2.0 body for code, threaded to the
// triggering message via pthid where one exists.
func New(code Code, pthid, comment string, args ...string) core.ProblemReport {
	return core.ProblemReport{
		ID:        uuid.NewString(),
		Type:      problemReportType,
		PTHID:     pthid,
		Code:      string(code),
		Comment:   comment,
		Args:      args,
		Retryable: code.Retryable(),
	}
}

// Error adapts a problem report to the error interface so it can travel
// through normal Go error-return plumbing before a handler renders it.
type Error struct {
	Report core.ProblemReport
	Code   Code
}

func (e Error) Error() string {
	if e.Report.Comment != "" {
		return e.Report.Comment
	}
	return e.Report.Code
}

// Wrap builds an Error carrying a fresh report for code.
func Wrap(code Code, pthid, comment string, args ...string) Error {
	return Error{Report: New(code, pthid, comment, args...), Code: code}
}
