package tests_test

import (
	"testing"

	"github.com/containerd/nerdctl/mod/tigron/expect"
	"github.com/containerd/nerdctl/mod/tigron/test"

	"github.com/pacsync/pacsync/tests/testutils"
)

func TestCLIArgValidation(t *testing.T) {
	testCase := testutils.Setup()

	testCase.SubTests = []*test.Case{
		{
			Description: "sync requires exactly two arguments",
			Command:     test.Command("sync", "only-one-root"),
			Expected:    test.Expects(expect.ExitCodeGenericFail, nil, nil),
		},
		{
			Description: "plan requires exactly two arguments",
			Command:     test.Command("plan"),
			Expected:    test.Expects(expect.ExitCodeGenericFail, nil, nil),
		},
		{
			Description: "unknown codec is rejected before any tree walk",
			Command:     test.Command("plan", "--codec", "mp3", ".", "."),
			Expected: func(_ test.Data, _ test.Helpers) *test.Expected {
				return &test.Expected{
					ExitCode: expect.ExitCodeGenericFail,
					Output:   expectContains("unknown codec"),
				}
			},
		},
	}

	testCase.Run(t)
}
