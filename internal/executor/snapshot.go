package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// Snapshot captures the full IAM state of a resource before modification.
type Snapshot struct {
	ID               string            `json:"snapshotId"`
	ResourceType     string            `json:"resourceType"`
	ResourceID       string            `json:"resourceId"`
	RoleName         string            `json:"roleName,omitempty"`
	AssumeRolePolicy string            `json:"assumeRolePolicy,omitempty"`
	AttachedPolicies []AttachedPolicy  `json:"attachedPolicies,omitempty"`
	InlinePolicies   map[string]string `json:"inlinePolicies,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// AttachedPolicy is one managed policy attachment at snapshot time.
type AttachedPolicy struct {
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type uploaderAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// SnapshotManager stores pre-change snapshots in S3 under
//
//	s3://<bucket>/<prefix>/snapshots/<snapshotID>.json
//
// and reads them back during rollback. The key is flat so a rollback can
// locate the object from the snapshot id alone.
type SnapshotManager struct {
	bucket   string
	prefix   string
	client   s3API
	uploader uploaderAPI
}

// NewSnapshotManager builds a manager on an existing S3 client. The prefix
// may be empty.
func NewSnapshotManager(client *s3.Client, bucket, prefix string) (*SnapshotManager, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	return &SnapshotManager{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// Save uploads the snapshot JSON.
func (m *SnapshotManager) Save(ctx context.Context, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(m.bucket),
		Key:                  aws.String(m.objectKey(snap.ID)),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

// Load fetches a snapshot by id.
func (m *SnapshotManager) Load(ctx context.Context, id string) (Snapshot, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(id)),
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("s3 get snapshot %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot body: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

func (m *SnapshotManager) objectKey(id string) string {
	return path.Join(m.prefix, "snapshots", fmt.Sprintf("%s.json", id))
}

// captureRoleSnapshot reads the role's trust policy, managed attachments and
// inline policy documents.
func captureRoleSnapshot(ctx context.Context, client iamAPI, resourceID string) (Snapshot, error) {
	roleName := roleNameFromID(resourceID)
	snap := Snapshot{
		ID:           newSnapshotID(),
		ResourceType: "IAM_ROLE",
		ResourceID:   resourceID,
		RoleName:     roleName,
		CreatedAt:    time.Now().UTC(),
	}

	roleOut, err := client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		return Snapshot{}, fmt.Errorf("get role %s: %w", roleName, err)
	}
	if roleOut.Role != nil {
		snap.AssumeRolePolicy = aws.ToString(roleOut.Role.AssumeRolePolicyDocument)
	}

	attachedOut, err := client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("list attached policies: %w", err)
	}
	for _, p := range attachedOut.AttachedPolicies {
		snap.AttachedPolicies = append(snap.AttachedPolicies, AttachedPolicy{
			Name: aws.ToString(p.PolicyName),
			ARN:  aws.ToString(p.PolicyArn),
		})
	}

	inlineOut, err := client.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("list inline policies: %w", err)
	}
	snap.InlinePolicies = map[string]string{}
	for _, name := range inlineOut.PolicyNames {
		doc, err := client.GetRolePolicy(ctx, &iam.GetRolePolicyInput{
			RoleName:   aws.String(roleName),
			PolicyName: aws.String(name),
		})
		if err != nil {
			return Snapshot{}, fmt.Errorf("get inline policy %s: %w", name, err)
		}
		snap.InlinePolicies[name] = aws.ToString(doc.PolicyDocument)
	}
	return snap, nil
}

func newSnapshotID() string {
	return "snap-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func roleNameFromID(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
