package healthcheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

const (
	defaultCheckTimeout     = 30 * time.Second
	defaultFailureThreshold = 2
	errorCountThreshold     = 10
)

type iamAPI interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	ListRolePolicies(ctx context.Context, in *iam.ListRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
}

type cloudwatchAPI interface {
	GetMetricData(ctx context.Context, in *cloudwatch.GetMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// AWSChecker validates IAM resources against the live AWS control plane and
// watches CloudWatch for post-change error spikes.
type AWSChecker struct {
	iam              iamAPI
	cloudwatch       cloudwatchAPI
	checkTimeout     time.Duration
	failureThreshold int
}

// NewAWSChecker loads default AWS config from the environment (AWS_REGION,
// AWS_PROFILE, credentials) and builds the service clients.
func NewAWSChecker(ctx context.Context) (*AWSChecker, error) {
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSChecker{
		iam:              iam.NewFromConfig(cfg),
		cloudwatch:       cloudwatch.NewFromConfig(cfg),
		checkTimeout:     defaultCheckTimeout,
		failureThreshold: defaultFailureThreshold,
	}, nil
}

// newAWSCheckerWithClients is the test seam.
func newAWSCheckerWithClients(iamClient iamAPI, cwClient cloudwatchAPI) *AWSChecker {
	return &AWSChecker{
		iam:              iamClient,
		cloudwatch:       cwClient,
		checkTimeout:     defaultCheckTimeout,
		failureThreshold: defaultFailureThreshold,
	}
}

type checkFunc func(ctx context.Context, req Request) (models.HealthStatus, string)

// Check runs every applicable check for the resource type. Each check gets
// its own timeout; a timed-out or erroring check records UNKNOWN and never
// aborts the report.
func (c *AWSChecker) Check(ctx context.Context, req Request) (models.HealthReport, error) {
	type namedCheck struct {
		name string
		fn   checkFunc
	}
	var selected []namedCheck
	switch req.ResourceType {
	case "IAMRole":
		selected = append(selected,
			namedCheck{"iam_policy_validation", c.checkPolicyState},
			namedCheck{"iam_role_assumable", c.checkRoleAssumable},
		)
	case "IAMPolicy", "IAMUser":
		selected = append(selected,
			namedCheck{"iam_policy_validation", c.checkPolicyState},
		)
	}
	selected = append(selected, namedCheck{"cloudwatch_errors", c.checkErrorRates})

	results := make([]models.HealthCheckResult, 0, len(selected))
	for _, nc := range selected {
		results = append(results, c.runOne(ctx, nc.name, nc.fn, req))
	}
	return buildReport(results, c.failureThreshold), nil
}

func (c *AWSChecker) runOne(ctx context.Context, name string, fn checkFunc, req Request) models.HealthCheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	status, message := fn(checkCtx, req)
	if checkCtx.Err() != nil {
		status = models.HealthUnknown
		message = "check timed out"
	}
	return models.HealthCheckResult{
		CheckName:  name,
		Status:     status,
		Message:    message,
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
}

// checkPolicyState verifies the policies the remediation removed are in fact
// no longer attached.
func (c *AWSChecker) checkPolicyState(ctx context.Context, req Request) (models.HealthStatus, string) {
	roleName := roleNameFromID(req.ResourceID)

	attachedOut, err := c.iam.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return models.HealthUnknown, fmt.Sprintf("list attached policies: %v", err)
	}
	inlineOut, err := c.iam.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return models.HealthUnknown, fmt.Sprintf("list inline policies: %v", err)
	}

	present := map[string]bool{}
	for _, p := range attachedOut.AttachedPolicies {
		present[aws.ToString(p.PolicyName)] = true
	}
	for _, p := range inlineOut.PolicyNames {
		present[p] = true
	}

	var unexpected []string
	for _, name := range req.RemovedPolicies {
		if present[name] {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		return models.HealthUnhealthy, fmt.Sprintf("policies not removed: %s", strings.Join(unexpected, ", "))
	}
	return models.HealthHealthy, "policy state is correct"
}

// checkRoleAssumable verifies the role still carries a trust policy.
func (c *AWSChecker) checkRoleAssumable(ctx context.Context, req Request) (models.HealthStatus, string) {
	out, err := c.iam.GetRole(ctx, &iam.GetRoleInput{
		RoleName: aws.String(roleNameFromID(req.ResourceID)),
	})
	if err != nil {
		return models.HealthUnknown, fmt.Sprintf("get role: %v", err)
	}
	if out.Role == nil || aws.ToString(out.Role.AssumeRolePolicyDocument) == "" {
		return models.HealthDegraded, "role has no trust policy"
	}
	return models.HealthHealthy, "role trust policy exists"
}

// checkErrorRates sums error metrics over the last five minutes.
func (c *AWSChecker) checkErrorRates(ctx context.Context, req Request) (models.HealthStatus, string) {
	end := time.Now().UTC()
	start := end.Add(-5 * time.Minute)

	out, err := c.cloudwatch.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		StartTime: aws.Time(start),
		EndTime:   aws.Time(end),
		MetricDataQueries: []cwtypes.MetricDataQuery{{
			Id: aws.String("errors"),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  aws.String("AWS/Lambda"),
					MetricName: aws.String("Errors"),
				},
				Period: aws.Int32(60),
				Stat:   aws.String("Sum"),
			},
			ReturnData: aws.Bool(true),
		}},
	})
	if err != nil {
		return models.HealthUnknown, fmt.Sprintf("get metric data: %v", err)
	}

	var total float64
	for _, r := range out.MetricDataResults {
		for _, v := range r.Values {
			total += v
		}
	}
	if total > errorCountThreshold {
		return models.HealthDegraded, fmt.Sprintf("elevated error count over 5m: %.0f", total)
	}
	return models.HealthHealthy, "error rates normal"
}

// roleNameFromID accepts either a bare role name or a full ARN.
func roleNameFromID(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
