package cluster

import (
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	recist "github.com/recist/recist/internal/model"
)

// BuildNetworkPolicySpec renders the NetworkPolicy that implements one
// isolation mode. Soft denies new inbound traffic but leaves egress
// alone, so the target can still flush in-flight work and be scraped
// for verification; Hard denies both ingress and egress except DNS,
// used when the fault set's severity calls for hard isolation.
func BuildNetworkPolicySpec(target recist.Target, mode recist.IsolationMode) networkingv1.NetworkPolicySpec {
	podSelector := metav1.LabelSelector{MatchLabels: map[string]string{"app": target.Name}}

	switch mode {
	case recist.IsolationHard:
		return networkingv1.NetworkPolicySpec{
			PodSelector: podSelector,
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress, networkingv1.PolicyTypeEgress},
			Ingress:     []networkingv1.NetworkPolicyIngressRule{},
			Egress:      dnsOnlyEgress(),
		}
	default: // Soft
		return networkingv1.NetworkPolicySpec{
			PodSelector: podSelector,
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress:     []networkingv1.NetworkPolicyIngressRule{},
		}
	}
}

func dnsOnlyEgress() []networkingv1.NetworkPolicyEgressRule {
	udp := corev1Protocol("UDP")
	port := int32(53)
	portRef := intstrFromInt(int(port))
	return []networkingv1.NetworkPolicyEgressRule{{
		Ports: []networkingv1.NetworkPolicyPort{{Protocol: &udp, Port: &portRef}},
	}}
}
