package usecase

import (
	"context"
	"errors"
	"testing"

	"octo/internal/domain"
)

const commonsRID = "orn:koi-net.node:commons"

type stubIntakePolicy struct {
	decision domain.IntakeDecision
	err      error
	inputs   []domain.IntakePolicyInput
}

func (p *stubIntakePolicy) Evaluate(ctx context.Context, input domain.IntakePolicyInput) (domain.IntakeDecision, error) {
	p.inputs = append(p.inputs, input)
	return p.decision, p.err
}

type stubResolver struct {
	matches []domain.EntityMatch
	err     error
}

func (r *stubResolver) Resolve(ctx context.Context, doc domain.SharedDocument) ([]domain.EntityMatch, error) {
	return r.matches, r.err
}

type stubNotifier struct {
	docs []domain.SharedDocument
	err  error
}

func (n *stubNotifier) DocumentChanged(ctx context.Context, doc domain.SharedDocument) error {
	n.docs = append(n.docs, doc)
	return n.err
}

func inbound(id, rid string, eventType domain.EventType) InboundEvent {
	return InboundEvent{Event: domain.Event{EventID: id, EventType: eventType, RID: rid, SourceNode: nodeA}}
}

func TestIntake_DuplicateIsNoop(t *testing.T) {
	repo := &memIntakeRepo{}
	svc := NewIntakeService(repo, commonsRID, nil, nil, nil, nil, nil)
	ctx := context.Background()

	first, created, err := svc.Receive(ctx, inbound("e1", docRID, domain.EventTypeNew))
	if err != nil || !created {
		t.Fatalf("first receive: created=%v err=%v", created, err)
	}
	second, created, err := svc.Receive(ctx, inbound("e1", docRID, domain.EventTypeNew))
	if err != nil {
		t.Fatalf("duplicate must not error: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected the stored record back")
	}
	docs, _ := svc.List(ctx, domain.IntakeFilter{})
	if len(docs) != 1 {
		t.Fatalf("expected one record, got %d", len(docs))
	}
}

func TestIntake_RecipientTypeAndStaging(t *testing.T) {
	repo := &memIntakeRepo{}
	svc := NewIntakeService(repo, commonsRID, nil, nil, nil, nil, nil)
	ctx := context.Background()

	in := inbound("e1", docRID, domain.EventTypeNew)
	in.AddressedTo = commonsRID
	in.Staged = true
	doc, _, err := svc.Receive(ctx, in)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if doc.RecipientType != domain.RecipientCommons || doc.IntakeStatus != domain.IntakeStaged || doc.Status != domain.DocumentStaged {
		t.Fatalf("unexpected commons record: %+v", doc)
	}

	peerDoc, _, err := svc.Receive(ctx, inbound("e2", "orn:note:other", domain.EventTypeNew))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if peerDoc.RecipientType != domain.RecipientPeer || peerDoc.IntakeStatus != domain.IntakeNone {
		t.Fatalf("unexpected peer record: %+v", peerDoc)
	}
}

func TestIntake_ReviewIsForwardOnly(t *testing.T) {
	repo := &memIntakeRepo{}
	svc := NewIntakeService(repo, commonsRID, nil, nil, nil, nil, nil)
	ctx := context.Background()
	in := inbound("e1", docRID, domain.EventTypeNew)
	in.Staged = true
	if _, _, err := svc.Receive(ctx, in); err != nil {
		t.Fatalf("receive: %v", err)
	}

	doc, err := svc.Review(ctx, ReviewRequest{DocumentRID: docRID, Decision: domain.IntakeReviewed, Reviewer: "kim"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if doc.IntakeStatus != domain.IntakeReviewed || doc.ReviewedAt == nil || doc.ReviewedBy != "kim" {
		t.Fatalf("unexpected review result: %+v", doc)
	}
	doc, err = svc.Review(ctx, ReviewRequest{DocumentRID: docRID, Decision: domain.IntakeRejected, Notes: "off topic"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if doc.IntakeStatus != domain.IntakeRejected || doc.Status == domain.DocumentIngested {
		t.Fatalf("rejection must not ingest: %+v", doc)
	}
	if _, err := svc.Review(ctx, ReviewRequest{DocumentRID: docRID, Decision: domain.IntakeRejected}); err != nil {
		t.Fatalf("repeating a terminal decision is idempotent: %v", err)
	}
	if _, err := svc.Review(ctx, ReviewRequest{DocumentRID: docRID, Decision: domain.IntakeAccepted}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict leaving a terminal state, got %v", err)
	}
	if _, err := svc.Review(ctx, ReviewRequest{DocumentRID: docRID, Decision: domain.IntakeStaged}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid decision, got %v", err)
	}
	if _, err := svc.Review(ctx, ReviewRequest{DocumentRID: "orn:note:missing", Decision: domain.IntakeAccepted}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIntake_AcceptThenForgetRetracts(t *testing.T) {
	repo := &memIntakeRepo{}
	notifier := &stubNotifier{}
	svc := NewIntakeService(repo, commonsRID, nil, nil, notifier, nil, nil)
	ctx := context.Background()
	if _, _, err := svc.Receive(ctx, inbound("e1", docRID, domain.EventTypeNew)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, _, err := svc.Receive(ctx, inbound("e2", docRID, domain.EventTypeUpdate)); err != nil {
		t.Fatalf("receive update: %v", err)
	}
	doc, err := svc.Review(ctx, ReviewRequest{DocumentRID: docRID, Decision: domain.IntakeAccepted})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if doc.Status != domain.DocumentIngested {
		t.Fatalf("expected ingested, got %s", doc.Status)
	}

	forget, created, err := svc.Receive(ctx, inbound("e3", docRID, domain.EventTypeForget))
	if err != nil || !created {
		t.Fatalf("forget: created=%v err=%v", created, err)
	}
	if forget.Status != domain.DocumentRetracted {
		t.Fatalf("forget record must be retracted")
	}
	docs, _ := svc.List(ctx, domain.IntakeFilter{DocumentRID: docRID})
	if len(docs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(docs))
	}
	for _, d := range docs {
		if d.Status != domain.DocumentRetracted {
			t.Fatalf("expected every record retracted, got %s", d.Status)
		}
	}
	if _, err := svc.Review(ctx, ReviewRequest{DocumentRID: docRID, Decision: domain.IntakeReviewed}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(notifier.docs) == 0 || notifier.docs[len(notifier.docs)-1].EventType != domain.EventTypeForget {
		t.Fatalf("expected storage notification for the retraction")
	}
}

func TestIntake_ForgetOnlyRetractsSendersRecords(t *testing.T) {
	repo := &memIntakeRepo{}
	svc := NewIntakeService(repo, "", nil, nil, nil, nil, nil)
	ctx := context.Background()
	if _, _, err := svc.Receive(ctx, inbound("e1", docRID, domain.EventTypeNew)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	forged := inbound("e2", docRID, domain.EventTypeForget)
	forged.Event.SourceNode = nodeC
	if _, _, err := svc.Receive(ctx, forged); err != nil {
		t.Fatalf("receive forget: %v", err)
	}
	fromA, _ := svc.List(ctx, domain.IntakeFilter{DocumentRID: docRID, SenderNode: nodeA})
	if len(fromA) != 1 || fromA[0].Status != domain.DocumentReceived {
		t.Fatalf("another sender's FORGET must not retract, got %+v", fromA)
	}
}

func TestIntake_PolicyAutoAcceptsPeerOnly(t *testing.T) {
	repo := &memIntakeRepo{}
	policy := &stubIntakePolicy{decision: domain.IntakeDecision{Decision: domain.IntakeAccepted, Reason: "trusted sender"}}
	svc := NewIntakeService(repo, commonsRID, policy, nil, nil, nil, nil)
	ctx := context.Background()

	doc, _, err := svc.Receive(ctx, inbound("e1", docRID, domain.EventTypeNew))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if doc.IntakeStatus != domain.IntakeAccepted || doc.Status != domain.DocumentIngested || doc.ReviewedBy != "policy" {
		t.Fatalf("expected auto-accept, got %+v", doc)
	}
	if policy.inputs[0].RIDType != "note" || policy.inputs[0].SenderNode != nodeA {
		t.Fatalf("unexpected policy input %+v", policy.inputs[0])
	}

	in := inbound("e2", "orn:note:commons-doc", domain.EventTypeNew)
	in.AddressedTo = commonsRID
	doc, _, err = svc.Receive(ctx, in)
	if err != nil {
		t.Fatalf("receive commons: %v", err)
	}
	if doc.IntakeStatus != domain.IntakeNone {
		t.Fatalf("commons documents need a human, got %s", doc.IntakeStatus)
	}
}

func TestIntake_PolicyAndEnrichmentFailuresDoNotRollBack(t *testing.T) {
	repo := &memIntakeRepo{}
	policy := &stubIntakePolicy{err: errors.New("opa down")}
	xrefs := NewCrossReferenceService(newMemXrefRepo(), &stubResolver{err: errors.New("resolver down")}, nil)
	notifier := &stubNotifier{err: errors.New("vault offline")}
	svc := NewIntakeService(repo, commonsRID, policy, xrefs, notifier, nil, nil)

	doc, created, err := svc.Receive(context.Background(), inbound("e1", docRID, domain.EventTypeNew))
	if err != nil || !created {
		t.Fatalf("receive must succeed: created=%v err=%v", created, err)
	}
	if doc.Status != domain.DocumentReceived {
		t.Fatalf("expected received, got %s", doc.Status)
	}
}

func TestIntake_EnrichmentLinksMatches(t *testing.T) {
	refs := newMemXrefRepo()
	resolver := &stubResolver{matches: []domain.EntityMatch{
		{LocalURI: "vault://practices/prescribed-burn", Confidence: 0.92},
		{LocalURI: "vault://people/ana", Confidence: 1.5},
	}}
	xrefs := NewCrossReferenceService(refs, resolver, nil)
	svc := NewIntakeService(&memIntakeRepo{}, commonsRID, nil, xrefs, nil, nil, nil)

	if _, _, err := svc.Receive(context.Background(), inbound("e1", docRID, domain.EventTypeNew)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	linked, _ := xrefs.ForRemote(context.Background(), docRID)
	if len(linked) != 1 {
		t.Fatalf("expected only the valid match to be linked, got %+v", linked)
	}
	if linked[0].Relationship != DefaultRelationship || linked[0].RemoteNode != nodeA {
		t.Fatalf("unexpected link %+v", linked[0])
	}
}
