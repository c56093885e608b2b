// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec

const TestNameTag = testNameTag

// InjectFaults makes the next n statements of the test fail with
// driver.ErrBadConn.
func InjectFaults(testName string, n int) {
	injectFaults(testName, n)
}

func StatementsRun(testName string) (queries, execs int) {
	return statementsRun(testName)
}

func IsRetryable(err error) bool {
	return retryable(err)
}
