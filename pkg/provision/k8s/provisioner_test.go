package k8s

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func newTestProvisioner() *Provisioner {
	return &Provisioner{
		client:    fake.NewClientset(),
		namespace: "maro",
		image:     "registry.local/maro-actor:test",
	}
}

func testFleetSpec() FleetSpec {
	return FleetSpec{
		Group:    "exp-1",
		RunID:    "run-1",
		Replicas: 3,
		Env:      map[string]string{"REDIS_ADDR": "redis:6379"},
	}
}

func TestDeployCreatesDeployment(t *testing.T) {
	p := newTestProvisioner()
	ctx := context.Background()

	require.NoError(t, p.Deploy(ctx, testFleetSpec()))

	deployment, err := p.client.AppsV1().Deployments("maro").Get(ctx, "maro-actor-exp-1", metav1.GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, int32(3), *deployment.Spec.Replicas)
	assert.Equal(t, "exp-1", deployment.Labels[groupLabel])
	assert.Equal(t, "run-1", deployment.Labels[runLabel])
	assert.Equal(t, managedByValue, deployment.Labels[managedByLabel])

	require.Len(t, deployment.Spec.Template.Spec.Containers, 1)
	container := deployment.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "registry.local/maro-actor:test", container.Image)

	// Env vars come out name-sorted so repeated previews diff cleanly.
	names := make([]string, 0, len(container.Env))
	for _, env := range container.Env {
		names = append(names, env.Name)
	}
	assert.Equal(t, []string{"MARO_GROUP", "MARO_RUN_ID", "REDIS_ADDR"}, names)
}

func TestDeployUpdatesExistingDeployment(t *testing.T) {
	p := newTestProvisioner()
	ctx := context.Background()

	require.NoError(t, p.Deploy(ctx, testFleetSpec()))

	spec := testFleetSpec()
	spec.Replicas = 5
	require.NoError(t, p.Deploy(ctx, spec))

	list, err := p.client.AppsV1().Deployments("maro").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, int32(5), *list.Items[0].Spec.Replicas)
}

func TestScale(t *testing.T) {
	p := newTestProvisioner()
	ctx := context.Background()

	require.NoError(t, p.Deploy(ctx, testFleetSpec()))
	require.NoError(t, p.Scale(ctx, "exp-1", 7))

	deployment, err := p.client.AppsV1().Deployments("maro").Get(ctx, "maro-actor-exp-1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(7), *deployment.Spec.Replicas)

	assert.Error(t, p.Scale(ctx, "exp-1", -1))
	assert.Error(t, p.Scale(ctx, "no-such-group", 2))
}

func TestDeleteIsIdempotent(t *testing.T) {
	p := newTestProvisioner()
	ctx := context.Background()

	require.NoError(t, p.Deploy(ctx, testFleetSpec()))
	require.NoError(t, p.Delete(ctx, "exp-1"))
	require.NoError(t, p.Delete(ctx, "exp-1"))

	list, err := p.client.AppsV1().Deployments("maro").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestListActorPods(t *testing.T) {
	p := newTestProvisioner()
	ctx := context.Background()

	fleetPod := func(name string, phase corev1.PodPhase) *corev1.Pod {
		return &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: "maro",
				Labels: map[string]string{
					managedByLabel: managedByValue,
					groupLabel:     "exp-1",
				},
			},
			Status: corev1.PodStatus{Phase: phase, PodIP: "10.0.0.1"},
		}
	}
	strayPod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "unrelated", Namespace: "maro"},
	}

	for _, pod := range []*corev1.Pod{fleetPod("actor-b", corev1.PodRunning), fleetPod("actor-a", corev1.PodPending), strayPod} {
		_, err := p.client.CoreV1().Pods("maro").Create(ctx, pod, metav1.CreateOptions{})
		require.NoError(t, err)
	}

	pods, err := p.ListActorPods(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, pods, 2)
	assert.Equal(t, "actor-a", pods[0].Name)
	assert.Equal(t, string(corev1.PodPending), pods[0].Phase)
	assert.Equal(t, "actor-b", pods[1].Name)
}

func TestPreviewYAML(t *testing.T) {
	p := newTestProvisioner()

	manifest, err := p.PreviewYAML(testFleetSpec())
	require.NoError(t, err)

	assert.Contains(t, manifest, "kind: Deployment")
	assert.Contains(t, manifest, "name: maro-actor-exp-1")
	assert.Contains(t, manifest, "registry.local/maro-actor:test")
	assert.Contains(t, manifest, "replicas: 3")
}

func TestBuildDeploymentValidation(t *testing.T) {
	p := newTestProvisioner()

	tests := []struct {
		name    string
		mutate  func(*FleetSpec)
		wantErr string
	}{
		{
			name:    "uppercase group",
			mutate:  func(s *FleetSpec) { s.Group = "Exp-1" },
			wantErr: "invalid group",
		},
		{
			name:    "negative replicas",
			mutate:  func(s *FleetSpec) { s.Replicas = -2 },
			wantErr: "cannot be negative",
		},
		{
			name:    "bad cpu quantity",
			mutate:  func(s *FleetSpec) { s.CPU = "two cores" },
			wantErr: "invalid cpu bound",
		},
		{
			name:    "bad memory quantity",
			mutate:  func(s *FleetSpec) { s.Memory = "lots" },
			wantErr: "invalid memory bound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testFleetSpec()
			tt.mutate(&spec)

			_, err := p.buildDeployment(spec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildDeploymentRequiresImage(t *testing.T) {
	p := newTestProvisioner()
	p.image = ""

	_, err := p.buildDeployment(testFleetSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no actor image configured")
}

func TestBuildDeploymentResourceBounds(t *testing.T) {
	p := newTestProvisioner()

	spec := testFleetSpec()
	spec.CPU = "500m"
	spec.Memory = "512Mi"

	deployment, err := p.buildDeployment(spec)
	require.NoError(t, err)

	resources := deployment.Spec.Template.Spec.Containers[0].Resources
	assert.Equal(t, "500m", resources.Limits.Cpu().String())
	assert.Equal(t, "512Mi", resources.Limits.Memory().String())
	assert.Equal(t, "500m", resources.Requests.Cpu().String())
}
