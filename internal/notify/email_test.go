// internal/notify/email_test.go
package notify

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"civiclens/internal/common/logger"
	"civiclens/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSES struct {
	sent    []*ses.SendEmailInput
	sendErr error
}

func (s *stubSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, params)
	return &ses.SendEmailOutput{MessageId: awssdk.String("m-1")}, nil
}

func expectRecipientLookup(mock sqlmock.Sqlmock, userID, email string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT email FROM users WHERE id = $1")).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow(email))
}

func testEmailConfig() *Config {
	return &Config{EmailEnabled: true, FromEmail: "notifications@civiclens.example"}
}

func TestEmailAdapter_StatusChangeRendersTemplate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectRecipientLookup(mock, "user-1", "citizen@example.com")

	stub := &stubSES{}
	adapter := NewEmailAdapter(testEmailConfig(), db, stub, logger.NewTestLogger(t))

	adapter.Notify(context.Background(), "user-1", models.TypeStatusChange, map[string]interface{}{
		"reportTitle": "Broken streetlight",
		"newStatus":   "in_progress",
	})

	require.Len(t, stub.sent, 1)
	input := stub.sent[0]
	assert.Equal(t, []string{"citizen@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, "notifications@civiclens.example", awssdk.ToString(input.Source))
	assert.Equal(t, "Report Status Update - CivicLens", awssdk.ToString(input.Message.Subject.Data))

	html := awssdk.ToString(input.Message.Body.Html.Data)
	assert.Contains(t, html, "Broken streetlight")
	assert.Contains(t, html, "in_progress")
	assert.NotContains(t, html, "{{", "all placeholders should be resolved or stripped")
}

func TestEmailAdapter_NewCommentRendersTemplate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectRecipientLookup(mock, "user-1", "citizen@example.com")

	stub := &stubSES{}
	adapter := NewEmailAdapter(testEmailConfig(), db, stub, logger.NewTestLogger(t))

	adapter.Notify(context.Background(), "user-1", models.TypeNewComment, map[string]interface{}{
		"reportTitle":   "Pothole on Main St",
		"commenterName": "Inspector Diaz",
		"commentText":   "Crew scheduled for Tuesday.",
	})

	require.Len(t, stub.sent, 1)
	text := awssdk.ToString(stub.sent[0].Message.Body.Text.Data)
	assert.Contains(t, text, "Inspector Diaz")
	assert.Contains(t, text, "Crew scheduled for Tuesday.")
}

func TestEmailAdapter_RecipientLookupFailureIsSwallowed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT email FROM users WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"email"}))

	stub := &stubSES{}
	adapter := NewEmailAdapter(testEmailConfig(), db, stub, logger.NewTestLogger(t))

	adapter.Notify(context.Background(), "ghost", models.TypeStatusChange, map[string]interface{}{})
	assert.Empty(t, stub.sent, "no recipient means no send, and no panic")
}

func TestEmailAdapter_SendFailureIsSwallowed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectRecipientLookup(mock, "user-1", "citizen@example.com")

	stub := &stubSES{sendErr: errors.New("rate exceeded")}
	adapter := NewEmailAdapter(testEmailConfig(), db, stub, logger.NewTestLogger(t))

	// Void by contract; the dispatcher never sees channel errors.
	adapter.Notify(context.Background(), "user-1", models.TypeStatusChange, map[string]interface{}{
		"reportTitle": "x", "newStatus": "resolved",
	})
}

func TestEmailAdapter_UnknownTypeSkipsSend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectRecipientLookup(mock, "user-1", "citizen@example.com")

	stub := &stubSES{}
	adapter := NewEmailAdapter(testEmailConfig(), db, stub, logger.NewTestLogger(t))

	adapter.Notify(context.Background(), "user-1", models.TypeSystem, map[string]interface{}{})
	assert.Empty(t, stub.sent)
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]interface{}
		want     string
	}{
		{
			name:     "substitutes placeholders",
			template: "Hello {{name}}, status is {{status}}",
			data:     map[string]interface{}{"name": "Ada", "status": "open"},
			want:     "Hello Ada, status is open",
		},
		{
			name:     "strips unresolved placeholders",
			template: "Hello {{name}}{{missing}}",
			data:     map[string]interface{}{"name": "Ada"},
			want:     "Hello Ada",
		},
		{
			name:     "formats non-string values",
			template: "Count: {{count}}",
			data:     map[string]interface{}{"count": 7},
			want:     "Count: 7",
		},
		{
			name:     "empty data strips everything",
			template: "{{a}} and {{b}}",
			data:     map[string]interface{}{},
			want:     " and ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderTemplate(tt.template, tt.data))
		})
	}
}
