package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/eteran/granary/internal/store"
)

// newACLClient builds the SDK client used for the ?acl sub-resource, which
// minio-go does not write. It shares the endpoint, region, key and
// transport of the minio-go client.
func newACLClient(endpoint string, region string, key store.Key, transport http.RoundTripper) *awss3.Client {
	return awss3.New(awss3.Options{
		BaseEndpoint:               aws.String(endpoint),
		Region:                     region,
		Credentials:                credentials.NewStaticCredentialsProvider(key.AccessKey, key.SecretKey, ""),
		UsePathStyle:               true,
		HTTPClient:                 &http.Client{Transport: transport},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
}

// AccountOwner reads the owner block of the caller's bucket listing.
func (c *Client) AccountOwner(ctx context.Context) (string, error) {
	out, err := c.acl.ListBuckets(ctx, &awss3.ListBucketsInput{})
	if err != nil {
		return "", fmt.Errorf("get account owner: %w", mapAPIError(err))
	}
	if out.Owner == nil || aws.ToString(out.Owner.ID) == "" {
		return "", fmt.Errorf("get account owner: %w: listing carries no owner", store.ErrRemote)
	}
	return aws.ToString(out.Owner.ID), nil
}

func (c *Client) BucketACL(ctx context.Context, bucket string) (store.ACL, error) {
	out, err := c.acl.GetBucketAcl(ctx, &awss3.GetBucketAclInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return store.ACL{}, fmt.Errorf("get bucket acl of %q: %w", bucket, mapAPIError(err))
	}
	return fromPolicy(out.Owner, out.Grants), nil
}

func (c *Client) SetBucketACL(ctx context.Context, bucket string, acl store.ACL) error {
	_, err := c.acl.PutBucketAcl(ctx, &awss3.PutBucketAclInput{
		Bucket:              aws.String(bucket),
		AccessControlPolicy: toPolicy(acl),
	})
	if err != nil {
		return fmt.Errorf("set bucket acl of %q: %w", bucket, mapAPIError(err))
	}
	return nil
}

func (c *Client) ObjectACL(ctx context.Context, bucket string, key string) (store.ACL, error) {
	out, err := c.acl.GetObjectAcl(ctx, &awss3.GetObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return store.ACL{}, fmt.Errorf("get object acl of %q in %q: %w", key, bucket, mapAPIError(err))
	}
	return fromPolicy(out.Owner, out.Grants), nil
}

func (c *Client) SetObjectACL(ctx context.Context, bucket string, key string, acl store.ACL) error {
	_, err := c.acl.PutObjectAcl(ctx, &awss3.PutObjectAclInput{
		Bucket:              aws.String(bucket),
		Key:                 aws.String(key),
		AccessControlPolicy: toPolicy(acl),
	})
	if err != nil {
		return fmt.Errorf("set object acl of %q in %q: %w", key, bucket, mapAPIError(err))
	}
	return nil
}

func fromPolicy(owner *types.Owner, grants []types.Grant) store.ACL {
	acl := store.ACL{
		Grants: make([]store.Grant, 0, len(grants)),
	}
	if owner != nil {
		acl.Owner = aws.ToString(owner.ID)
		acl.OwnerName = aws.ToString(owner.DisplayName)
	}

	for _, g := range grants {
		if g.Grantee == nil {
			continue
		}
		grant := store.Grant{
			Grantee:    aws.ToString(g.Grantee.ID),
			Type:       store.GranteeCanonicalUser,
			Permission: store.Permission(g.Permission),
		}
		uri := aws.ToString(g.Grantee.URI)
		if g.Grantee.Type == types.TypeGroup || (grant.Grantee == "" && uri != "") {
			grant.Grantee = uri
			grant.Type = store.GranteeGroup
		}
		acl.Grants = append(acl.Grants, grant)
	}
	return acl
}

func toPolicy(acl store.ACL) *types.AccessControlPolicy {
	policy := &types.AccessControlPolicy{
		Owner:  &types.Owner{ID: aws.String(acl.Owner)},
		Grants: make([]types.Grant, 0, len(acl.Grants)),
	}
	if acl.OwnerName != "" {
		policy.Owner.DisplayName = aws.String(acl.OwnerName)
	}

	for _, g := range acl.Grants {
		grantee := &types.Grantee{Type: types.TypeCanonicalUser, ID: aws.String(g.Grantee)}
		if g.Type == store.GranteeGroup {
			grantee = &types.Grantee{Type: types.TypeGroup, URI: aws.String(g.Grantee)}
		}
		policy.Grants = append(policy.Grants, types.Grant{
			Grantee:    grantee,
			Permission: types.Permission(g.Permission),
		})
	}
	return policy
}

// mapAPIError classifies an SDK error by its S3 error code and HTTP status.
func mapAPIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var code string
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	return classify(err, code, status)
}
