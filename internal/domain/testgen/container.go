package testgen

import "fmt"

// ContainerKind is the test-management entity a batch of tests is attached to.
type ContainerKind string

const (
	ContainerTestSet       ContainerKind = "testSet"
	ContainerTestPlan      ContainerKind = "testPlan"
	ContainerTestExecution ContainerKind = "testExecution"
	ContainerPrecondition  ContainerKind = "precondition"
)

var addTestsMutations = map[ContainerKind]string{
	ContainerTestSet:       "addTestsToTestSet",
	ContainerTestPlan:      "addTestsToTestPlan",
	ContainerTestExecution: "addTestsToTestExecution",
	ContainerPrecondition:  "addTestsToPrecondition",
}

func (k ContainerKind) AddTestsMutation() (string, error) {
	name, ok := addTestsMutations[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContainerKind, string(k))
	}
	return name, nil
}

// ExecutionContainerKind is the entity a batch of test executions is attached to.
type ExecutionContainerKind string

const (
	ExecutionContainerTestPlan ExecutionContainerKind = "testPlan"
	ExecutionContainerTest     ExecutionContainerKind = "test"
)

var addTestExecutionsMutations = map[ExecutionContainerKind]string{
	ExecutionContainerTestPlan: "addTestExecutionsToTestPlan",
	ExecutionContainerTest:     "addTestExecutionsToTests",
}

func (k ExecutionContainerKind) AddTestExecutionsMutation() (string, error) {
	name, ok := addTestExecutionsMutations[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContainerKind, string(k))
	}
	return name, nil
}
