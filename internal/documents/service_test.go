package documents

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
)

type recordingLifecycle struct {
	calls []id.AuditID
	err   error
}

func (r *recordingLifecycle) NoteDocumentUploaded(_ context.Context, auditID id.AuditID, _ id.ActorID) error {
	r.calls = append(r.calls, auditID)
	return r.err
}

type RegistrySuite struct {
	suite.Suite

	store     *MemoryStore
	lifecycle *recordingLifecycle
	svc       *Service
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.store = NewMemoryStore()
	s.lifecycle = &recordingLifecycle{}
	svc, err := NewService(s.store, s.lifecycle, slog.Default())
	s.Require().NoError(err)
	s.svc = svc
}

func provider() id.Actor {
	return id.Actor{ID: id.NewActorID(), Capabilities: []id.Capability{id.CapabilityProvider}}
}

func (s *RegistrySuite) TestRegisterAssignsVersionAndNotifiesLifecycle() {
	auditID := id.NewAuditID()
	sectionID := id.NewSectionID()

	doc, err := s.svc.Register(context.Background(), provider(), RegisterParams{
		AuditID: auditID, SectionID: sectionID, StoragePath: "s3://bucket/a.pdf",
	})
	s.Require().NoError(err)
	s.Equal(1, doc.Version)
	s.Equal([]id.AuditID{auditID}, s.lifecycle.calls)

	again, err := s.svc.Register(context.Background(), provider(), RegisterParams{
		AuditID: auditID, SectionID: sectionID, StoragePath: "s3://bucket/a-v2.pdf",
	})
	s.Require().NoError(err)
	s.Equal(2, again.Version)
}

func (s *RegistrySuite) TestRegisterRequiresProviderCapability() {
	auditor := id.Actor{ID: id.NewActorID(), Capabilities: []id.Capability{id.CapabilityAuditor}}
	_, err := s.svc.Register(context.Background(), auditor, RegisterParams{
		AuditID: id.NewAuditID(), SectionID: id.NewSectionID(), StoragePath: "p",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Empty(s.lifecycle.calls)
}

func (s *RegistrySuite) TestRegisterValidatesParams() {
	_, err := s.svc.Register(context.Background(), provider(), RegisterParams{
		SectionID: id.NewSectionID(), StoragePath: "p",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.Register(context.Background(), provider(), RegisterParams{
		AuditID: id.NewAuditID(), SectionID: id.NewSectionID(),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *RegistrySuite) TestLifecycleFailureDoesNotUndoRegistration() {
	s.lifecycle.err = errors.New("boom")
	auditID := id.NewAuditID()

	doc, err := s.svc.Register(context.Background(), provider(), RegisterParams{
		AuditID: auditID, SectionID: id.NewSectionID(), StoragePath: "p",
	})
	s.Require().NoError(err)
	s.NotNil(doc)

	docs, err := s.store.ListByAudit(context.Background(), auditID)
	s.Require().NoError(err)
	s.Len(docs, 1)
}

func TestSoftDeleteHidesFromDistinctSections(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	auditID := id.NewAuditID()
	sectionID := id.NewSectionID()

	doc := &Document{AuditID: auditID, SectionID: sectionID, UploaderID: id.NewActorID(), StoragePath: "p"}
	require.NoError(t, store.Register(ctx, doc))

	sections, err := store.DistinctSections(ctx, auditID)
	require.NoError(t, err)
	require.Len(t, sections, 1)

	require.NoError(t, store.SoftDelete(ctx, doc.ID))

	sections, err = store.DistinctSections(ctx, auditID)
	require.NoError(t, err)
	require.Empty(t, sections)
}
