// Package k8s provisions actor fleets on Kubernetes: one Deployment
// per training group, scaled to the expected actor count. The learner
// stays outside the cluster's control loop; it only sizes the fleet.
package k8s

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/yaml"

	"maro/pkg/config"
	"maro/pkg/logger"
)

// Kubernetes DNS-1123 label: lowercase alphanumerics and '-', must
// start and end alphanumeric, at most 63 characters.
var dns1123LabelRegex = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

const (
	managedByLabel = "managed-by"
	managedByValue = "maro"
	groupLabel     = "maro.io/group"
	runLabel       = "maro.io/run"
)

// Provisioner manages the actor Deployment of each training group.
type Provisioner struct {
	client    kubernetes.Interface
	namespace string
	image     string
}

// NewProvisioner builds a provisioner from the provisioning section.
// It prefers in-cluster credentials and falls back to the configured
// kubeconfig when running outside the cluster.
func NewProvisioner(cfg *config.ProvisionConfig) (*Provisioner, error) {
	restCfg, err := restConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &Provisioner{
		client:    client,
		namespace: cfg.Namespace,
		image:     cfg.ActorImage,
	}, nil
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		return cfg, nil
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules, &clientcmd.ConfigOverrides{},
	).ClientConfig()
}

// FleetSpec sizes one group's actor fleet.
type FleetSpec struct {
	Group    string
	RunID    string
	Replicas int32
	// Env is injected into every actor container, typically the Redis
	// address and the group name the actors should join.
	Env map[string]string
	// CPU and Memory are optional per-actor resource bounds, e.g.
	// "500m" and "512Mi". Empty means unlimited.
	CPU    string
	Memory string
}

// DeploymentName returns the Deployment managed for a group.
func DeploymentName(group string) string {
	return fmt.Sprintf("maro-actor-%s", group)
}

func validateGroup(group string) error {
	name := DeploymentName(group)
	if len(name) > 63 {
		return fmt.Errorf("group name too long for a deployment name (max 63 characters): %s", name)
	}
	if !dns1123LabelRegex.MatchString(name) {
		return fmt.Errorf("invalid group %q: deployment names must consist of lowercase alphanumeric characters or '-'", group)
	}
	return nil
}

// Deploy creates or updates the group's actor Deployment.
func (p *Provisioner) Deploy(ctx context.Context, spec FleetSpec) error {
	deployment, err := p.buildDeployment(spec)
	if err != nil {
		return err
	}

	deployments := p.client.AppsV1().Deployments(p.namespace)
	existing, err := deployments.Get(ctx, deployment.Name, metav1.GetOptions{})
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to get deployment: %w", err)
		}
		if _, err := deployments.Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create deployment: %w", err)
		}
		logger.InfoCtx(ctx, "actor fleet %s created: %d replicas", deployment.Name, spec.Replicas)
		return nil
	}

	deployment.ResourceVersion = existing.ResourceVersion
	if _, err := deployments.Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}
	logger.InfoCtx(ctx, "actor fleet %s updated: %d replicas", deployment.Name, spec.Replicas)
	return nil
}

// Scale updates the desired actor count for a group.
func (p *Provisioner) Scale(ctx context.Context, group string, replicas int32) error {
	if replicas < 0 {
		return fmt.Errorf("replicas cannot be negative")
	}
	if err := validateGroup(group); err != nil {
		return err
	}

	deployments := p.client.AppsV1().Deployments(p.namespace)
	deployment, err := deployments.Get(ctx, DeploymentName(group), metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get deployment: %w", err)
	}

	deployment.Spec.Replicas = &replicas
	if _, err := deployments.Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to scale deployment: %w", err)
	}
	logger.InfoCtx(ctx, "actor fleet %s scaled to %d replicas", deployment.Name, replicas)
	return nil
}

// Delete removes the group's actor Deployment. A fleet that is already
// gone is not an error.
func (p *Provisioner) Delete(ctx context.Context, group string) error {
	if err := validateGroup(group); err != nil {
		return err
	}

	name := DeploymentName(group)
	err := p.client.AppsV1().Deployments(p.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}
	logger.InfoCtx(ctx, "actor fleet %s deleted", name)
	return nil
}

// ActorPod is the inspection view of one running actor.
type ActorPod struct {
	Name  string `json:"name"`
	Phase string `json:"phase"`
	PodIP string `json:"podIp,omitempty"`
}

// ListActorPods lists the pods of a group's fleet.
func (p *Provisioner) ListActorPods(ctx context.Context, group string) ([]ActorPod, error) {
	if err := validateGroup(group); err != nil {
		return nil, err
	}

	selector := labels.SelectorFromSet(labels.Set{
		managedByLabel: managedByValue,
		groupLabel:     group,
	})
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list actor pods: %w", err)
	}

	result := make([]ActorPod, 0, len(pods.Items))
	for _, pod := range pods.Items {
		result = append(result, ActorPod{
			Name:  pod.Name,
			Phase: string(pod.Status.Phase),
			PodIP: pod.Status.PodIP,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// PreviewYAML renders the Deployment the fleet spec would apply.
func (p *Provisioner) PreviewYAML(spec FleetSpec) (string, error) {
	deployment, err := p.buildDeployment(spec)
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(deployment)
	if err != nil {
		return "", fmt.Errorf("failed to render deployment: %w", err)
	}
	return string(data), nil
}

func (p *Provisioner) buildDeployment(spec FleetSpec) (*appsv1.Deployment, error) {
	if err := validateGroup(spec.Group); err != nil {
		return nil, err
	}
	if spec.Replicas < 0 {
		return nil, fmt.Errorf("replicas cannot be negative")
	}
	if p.image == "" {
		return nil, fmt.Errorf("no actor image configured")
	}

	resources, err := buildResources(spec.CPU, spec.Memory)
	if err != nil {
		return nil, err
	}

	name := DeploymentName(spec.Group)
	podLabels := map[string]string{
		"app":          name,
		managedByLabel: managedByValue,
		groupLabel:     spec.Group,
	}
	if spec.RunID != "" {
		podLabels[runLabel] = spec.RunID
	}

	replicas := spec.Replicas
	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "apps/v1",
			Kind:       "Deployment",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: p.namespace,
			Labels:    podLabels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: podLabels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:      "actor",
							Image:     p.image,
							Env:       buildEnv(spec),
							Resources: resources,
						},
					},
					RestartPolicy: corev1.RestartPolicyAlways,
				},
			},
		},
	}, nil
}

// buildEnv flattens the env map in name order so the rendered manifest
// is stable across calls.
func buildEnv(spec FleetSpec) []corev1.EnvVar {
	env := map[string]string{
		"MARO_GROUP":  spec.Group,
		"MARO_RUN_ID": spec.RunID,
	}
	for k, v := range spec.Env {
		env[k] = v
	}

	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]corev1.EnvVar, 0, len(names))
	for _, name := range names {
		if env[name] == "" {
			continue
		}
		vars = append(vars, corev1.EnvVar{Name: name, Value: env[name]})
	}
	return vars
}

func buildResources(cpu, memory string) (corev1.ResourceRequirements, error) {
	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{},
		Limits:   corev1.ResourceList{},
	}

	if memory != "" {
		quantity, err := resource.ParseQuantity(memory)
		if err != nil {
			return resources, fmt.Errorf("invalid memory bound %q: %w", memory, err)
		}
		resources.Requests[corev1.ResourceMemory] = quantity
		resources.Limits[corev1.ResourceMemory] = quantity
	}
	if cpu != "" {
		quantity, err := resource.ParseQuantity(cpu)
		if err != nil {
			return resources, fmt.Errorf("invalid cpu bound %q: %w", cpu, err)
		}
		resources.Requests[corev1.ResourceCPU] = quantity
		resources.Limits[corev1.ResourceCPU] = quantity
	}
	return resources, nil
}
