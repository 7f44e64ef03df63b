package executor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

type iamAPI interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, opts ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	ListRolePolicies(ctx context.Context, in *iam.ListRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
	GetRolePolicy(ctx context.Context, in *iam.GetRolePolicyInput, opts ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error)
	DeleteRolePolicy(ctx context.Context, in *iam.DeleteRolePolicyInput, opts ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, opts ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, in *iam.PutRolePolicyInput, opts ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, opts ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
}

// IAMExecutor applies least-privilege remediations to IAM roles: it
// snapshots the role, then detaches managed policies and deletes inline
// policies named in the request.
type IAMExecutor struct {
	iam       iamAPI
	snapshots *SnapshotManager
}

// NewIAMExecutor loads default AWS config from the environment and stores
// pre-change snapshots in the given bucket.
func NewIAMExecutor(ctx context.Context, bucket, prefix string) (*IAMExecutor, error) {
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	snapshots, err := NewSnapshotManager(s3.NewFromConfig(cfg), bucket, prefix)
	if err != nil {
		return nil, err
	}
	return &IAMExecutor{iam: iam.NewFromConfig(cfg), snapshots: snapshots}, nil
}

func (e *IAMExecutor) Execute(ctx context.Context, req ExecuteRequest) (models.ExecutionResult, error) {
	snap, err := captureRoleSnapshot(ctx, e.iam, req.ResourceID)
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("snapshot %s: %w", req.ResourceID, err)
	}
	if err := e.snapshots.Save(ctx, snap); err != nil {
		return models.ExecutionResult{}, err
	}

	roleName := roleNameFromID(req.ResourceID)
	remove := map[string]bool{}
	for _, name := range req.PermissionsToRemove {
		remove[name] = true
	}

	var changes []models.ChangeDetail
	for _, attached := range snap.AttachedPolicies {
		if len(remove) > 0 && !remove[attached.Name] {
			continue
		}
		_, err := e.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(roleName),
			PolicyArn: aws.String(attached.ARN),
		})
		if err != nil {
			return models.ExecutionResult{}, fmt.Errorf("detach policy %s: %w", attached.Name, err)
		}
		changes = append(changes, models.ChangeDetail{
			Kind:   "detach_policy",
			Target: attached.ARN,
			Detail: attached.Name,
		})
	}
	for name := range snap.InlinePolicies {
		if len(remove) > 0 && !remove[name] {
			continue
		}
		_, err := e.iam.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
			RoleName:   aws.String(roleName),
			PolicyName: aws.String(name),
		})
		if err != nil {
			return models.ExecutionResult{}, fmt.Errorf("delete inline policy %s: %w", name, err)
		}
		changes = append(changes, models.ChangeDetail{
			Kind:   "delete_inline_policy",
			Target: roleName,
			Detail: name,
		})
	}

	log.Printf("[executor.iam] remediated role=%s changes=%d snapshot=%s", roleName, len(changes), snap.ID)
	return models.ExecutionResult{
		RemediationID:    newExecutionID(),
		Status:           "REMEDIATED",
		SnapshotID:       snap.ID,
		CanaryPercentage: req.CanaryPercentage,
		Changes:          changes,
		AppliedAt:        time.Now().UTC(),
	}, nil
}

// Rollback restores the role's inline policies and managed attachments from
// the snapshot taken before the change.
func (e *IAMExecutor) Rollback(ctx context.Context, req RollbackRequest) error {
	if req.SnapshotID == "" {
		return fmt.Errorf("rollback %s: no snapshot id", req.ResourceID)
	}
	snap, err := e.snapshots.Load(ctx, req.SnapshotID)
	if err != nil {
		return err
	}
	roleName := snap.RoleName
	if roleName == "" {
		roleName = roleNameFromID(req.ResourceID)
	}

	for name, doc := range snap.InlinePolicies {
		_, err := e.iam.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       aws.String(roleName),
			PolicyName:     aws.String(name),
			PolicyDocument: aws.String(doc),
		})
		if err != nil {
			return fmt.Errorf("restore inline policy %s: %w", name, err)
		}
	}
	for _, attached := range snap.AttachedPolicies {
		_, err := e.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(roleName),
			PolicyArn: aws.String(attached.ARN),
		})
		if err != nil {
			return fmt.Errorf("reattach policy %s: %w", attached.Name, err)
		}
	}

	log.Printf("[executor.iam] rolled back role=%s snapshot=%s", roleName, snap.ID)
	return nil
}

func newExecutionID() string {
	return "exec-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
